package binning

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Header returns the binned table columns: <name>_min and <name>_max per
// dimension, then the count column.
func Header(dims []Dimension) []string {
	out := make([]string, 0, 2*len(dims)+1)
	for _, d := range dims {
		out = append(out, d.Name+"_min", d.Name+"_max")
	}
	return append(out, constants.ScaledEventsColumn)
}

func formatEdge(v float64) string {
	if math.IsNaN(v) {
		return constants.MissingEdge
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes the binned table described by Rows.
func (a *Accumulator) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(a.geom.dimensions)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range a.Rows() {
		rec := make([]string, 0, 2*len(row.Min)+1)
		for d := range row.Min {
			rec = append(rec, formatEdge(row.Min[d]), formatEdge(row.Max[d]))
		}
		rec = append(rec, strconv.FormatFloat(row.Count, 'g', -1, 64))
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing bin %s: %w", Key(row.Bins), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the binned table to path.
func (a *Accumulator) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := a.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Table is a binned table read back from CSV. Rows carry no bin indices.
type Table struct {
	Names []string
	Rows  []Row
}

// ReadTable parses a binned table written by WriteCSV. "NA" edges become NaN.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("binned table is empty: %w", quickerr.ErrConfig)
		}
		return nil, fmt.Errorf("reading binned table header: %w", err)
	}
	if len(header) < 3 || len(header)%2 != 1 {
		return nil, fmt.Errorf("binned table header has %d columns: %w", len(header), quickerr.ErrConfig)
	}

	n := (len(header) - 1) / 2
	t := &Table{Names: make([]string, n)}
	for d := 0; d < n; d++ {
		t.Names[d] = strings.TrimSuffix(header[2*d], "_min")
	}

	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("binned table line %d: %v: %w", line, err, quickerr.ErrConfig)
		}

		row := Row{Min: make([]float64, n), Max: make([]float64, n)}
		for d := 0; d < n; d++ {
			if row.Min[d], err = parseEdge(fields[2*d]); err != nil {
				return nil, fmt.Errorf("binned table line %d: %v: %w", line, err, quickerr.ErrConfig)
			}
			if row.Max[d], err = parseEdge(fields[2*d+1]); err != nil {
				return nil, fmt.Errorf("binned table line %d: %v: %w", line, err, quickerr.ErrConfig)
			}
		}
		if row.Count, err = strconv.ParseFloat(strings.TrimSpace(fields[2*n]), 64); err != nil {
			return nil, fmt.Errorf("binned table line %d: %v: %w", line, err, quickerr.ErrConfig)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseEdge(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == constants.MissingEdge {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
