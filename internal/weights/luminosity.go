package weights

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/quickerr"
)

// LuminosityTable resolves the expected integrated luminosity for a beam
// energy pair.
type LuminosityTable interface {
	Lookup(eEnergy, hEnergy int) (float64, error)
}

// StaticLuminosity is an in-memory LuminosityTable keyed by beam energies.
type StaticLuminosity map[[2]int]float64

// Lookup returns the luminosity for the pair or ErrLookupNotFound.
func (s StaticLuminosity) Lookup(eEnergy, hEnergy int) (float64, error) {
	lumi, ok := s[[2]int{eEnergy, hEnergy}]
	if !ok {
		return 0, fmt.Errorf("no experimental luminosity for %dx%d: %w", eEnergy, hEnergy, quickerr.ErrLookupNotFound)
	}
	return lumi, nil
}

// LoadLuminosityCSV reads "electron_energy,hadron_energy,expected_lumi"
// rows following a header. The first row for a pair wins.
func LoadLuminosityCSV(path string) (StaticLuminosity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening luminosity table: %w", err)
	}
	defer f.Close()
	return ParseLuminosityCSV(f)
}

// ParseLuminosityCSV is LoadLuminosityCSV over a reader.
func ParseLuminosityCSV(r io.Reader) (StaticLuminosity, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("luminosity table is empty: %w", quickerr.ErrConfig)
		}
		return nil, fmt.Errorf("reading luminosity header: %w", err)
	}

	table := make(StaticLuminosity)
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading luminosity line %d: %w", line, err)
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("luminosity line %d: need 3 columns: %w", line, quickerr.ErrConfig)
		}
		e, errE := strconv.Atoi(strings.TrimSpace(fields[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(fields[1]))
		lumi, errL := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err := errors.Join(errE, errH, errL); err != nil {
			return nil, fmt.Errorf("luminosity line %d: %v: %w", line, err, quickerr.ErrConfig)
		}
		key := [2]int{e, h}
		if _, ok := table[key]; !ok {
			table[key] = lumi
		}
	}
	return table, nil
}
