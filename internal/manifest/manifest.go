// Package manifest indexes the per-file summary of simulated samples: one
// row per generator file with its Q2 cut, beam energies, event count and
// cross section.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Record is one manifest row.
type Record struct {
	Filename       string  `json:"filename"`
	Q2Min          int     `json:"q2_min"`
	Q2Max          int     `json:"q2_max"`
	EEnergy        int     `json:"electron_energy"`
	HEnergy        int     `json:"hadron_energy"`
	NEvents        int     `json:"n_events"`
	CrossSectionPb float64 `json:"cross_section_pb"`
	// Weight is a user-supplied weight, or constants.AbsentWeight.
	Weight float64 `json:"weight"`
}

// HasWeight reports whether the record carries a user weight.
func (r Record) HasWeight() bool {
	return r.Weight >= 0
}

// Key groups records that belong to the same simulated sample.
type Key struct {
	EEnergy int
	HEnergy int
	Q2Min   int
	Q2Max   int
}

// Manifest holds parsed records grouped by Key. Insertion order is kept
// within each group and across groups.
type Manifest struct {
	groups map[Key][]Record
	order  []Key
}

// Load reads a manifest CSV file.
func Load(path string, logger *slog.Logger) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse reads manifest rows from r. The first row is a header. Malformed
// rows are logged and skipped.
func Parse(r io.Reader, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	m := &Manifest{groups: make(map[Key][]Record)}
	header := true
	line := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading manifest line %d: %w", line, err)
		}
		if header {
			header = false
			continue
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		rec, err := parseRecord(fields)
		if err != nil {
			logger.Warn("skipping manifest row", "line", line, "error", err)
			continue
		}
		m.Add(rec)
	}
	return m, nil
}

func parseRecord(fields []string) (Record, error) {
	if len(fields) < constants.MinManifestColumns {
		return Record{}, fmt.Errorf("need at least %d columns, got %d", constants.MinManifestColumns, len(fields))
	}

	var rec Record
	rec.Filename = strings.TrimSpace(fields[0])
	if rec.Filename == "" {
		return Record{}, fmt.Errorf("empty filename")
	}

	ints := []*int{&rec.Q2Min, &rec.Q2Max, &rec.EEnergy, &rec.HEnergy, &rec.NEvents}
	for i, dst := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(fields[i+1]))
		if err != nil {
			return Record{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		*dst = v
	}

	xs, err := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("cross section: %w", err)
	}
	rec.CrossSectionPb = xs

	rec.Weight = constants.AbsentWeight
	if len(fields) > constants.MinManifestColumns {
		w, err := strconv.ParseFloat(strings.TrimSpace(fields[7]), 64)
		if err != nil {
			return Record{}, fmt.Errorf("weight: %w", err)
		}
		rec.Weight = w
	}
	return rec, nil
}

// Add appends a record to its group.
func (m *Manifest) Add(rec Record) {
	key := Key{EEnergy: rec.EEnergy, HEnergy: rec.HEnergy, Q2Min: rec.Q2Min, Q2Max: rec.Q2Max}
	if _, ok := m.groups[key]; !ok {
		m.order = append(m.order, key)
	}
	m.groups[key] = append(m.groups[key], rec)
}

// Len returns the number of records.
func (m *Manifest) Len() int {
	n := 0
	for _, rows := range m.groups {
		n += len(rows)
	}
	return n
}

// Files returns up to nFiles filenames of the group. nFiles <= 0 returns all.
func (m *Manifest) Files(key Key, nFiles int) []string {
	rows := m.Select(key, nFiles, 0)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Filename
	}
	return out
}

// Select returns up to nRows records of the group, with NEvents capped at
// maxEvents when maxEvents > 0. A missing group yields nil.
func (m *Manifest) Select(key Key, nRows, maxEvents int) []Record {
	rows := m.groups[key]
	if len(rows) == 0 {
		return nil
	}
	if nRows <= 0 || nRows > len(rows) {
		nRows = len(rows)
	}
	out := make([]Record, nRows)
	copy(out, rows[:nRows])
	capEvents(out, maxEvents)
	return out
}

// All returns every record in insertion order, trimmed to nRows when
// nRows > 0 and with NEvents capped at maxEvents when maxEvents > 0.
func (m *Manifest) All(nRows, maxEvents int) []Record {
	var out []Record
	for _, key := range m.order {
		out = append(out, m.groups[key]...)
	}
	if nRows > 0 && nRows < len(out) {
		out = out[:nRows]
	}
	capEvents(out, maxEvents)
	return out
}

func capEvents(rows []Record, maxEvents int) {
	if maxEvents <= 0 {
		return
	}
	for i := range rows {
		if rows[i].NEvents > maxEvents {
			rows[i].NEvents = maxEvents
		}
	}
}

// Combine concatenates record groups.
func Combine(groups ...[]Record) []Record {
	var out []Record
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ParseEnergyConfig splits an "NxM" beam configuration such as "10x100".
func ParseEnergyConfig(s string) (eEnergy, hEnergy int, err error) {
	left, right, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("energy config %q: expected NxM: %w", s, quickerr.ErrConfig)
	}
	if eEnergy, err = strconv.Atoi(left); err != nil {
		return 0, 0, fmt.Errorf("energy config %q: %w", s, quickerr.ErrConfig)
	}
	if hEnergy, err = strconv.Atoi(right); err != nil {
		return 0, 0, fmt.Errorf("energy config %q: %w", s, quickerr.ErrConfig)
	}
	return eEnergy, hEnergy, nil
}
