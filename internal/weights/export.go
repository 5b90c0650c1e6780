package weights

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/manifest"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

var (
	recordHeader        = []string{"filename", "Q2_min", "Q2_max", "electron_energy", "hadron_energy", "n_events", "cross_section_pb", "weight"}
	precalculatedHeader = []string{"Q2_min", "Q2_max", "collision_type", "electron_energy", "hadron_energy", "weight"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ExportRecords writes every record with its weight appended. The weight is
// looked up just above the record's Q2 lower edge so a shared boundary
// resolves to the record's own interval.
func (t *Table) ExportRecords(w io.Writer, records []manifest.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(recordHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		weight := t.Weight(float64(r.Q2Min) + constants.ExportQ2Offset)
		row := []string{
			r.Filename,
			strconv.Itoa(r.Q2Min),
			strconv.Itoa(r.Q2Max),
			strconv.Itoa(r.EEnergy),
			strconv.Itoa(r.HEnergy),
			strconv.Itoa(r.NEvents),
			formatFloat(r.CrossSectionPb),
			formatFloat(weight),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing record %s: %w", r.Filename, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// PrecalculatedRows returns one row per interval suitable for reuse with
// NewPrecalculated.
func (t *Table) PrecalculatedRows() []PrecalculatedRow {
	ivs := t.Intervals()
	out := make([]PrecalculatedRow, len(ivs))
	for i, iv := range ivs {
		out[i] = PrecalculatedRow{
			Q2Min:     iv.Q2Min,
			Q2Max:     iv.Q2Max,
			Collision: iv.Collision,
			EEnergy:   t.eEnergy,
			HEnergy:   t.hEnergy,
			Weight:    t.Weight(iv.Q2Min + constants.ExportQ2Offset),
		}
	}
	return out
}

// ExportPrecalculated writes PrecalculatedRows as CSV.
func (t *Table) ExportPrecalculated(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(precalculatedHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range t.PrecalculatedRows() {
		row := []string{
			formatFloat(r.Q2Min),
			formatFloat(r.Q2Max),
			r.Collision.String(),
			strconv.Itoa(r.EEnergy),
			strconv.Itoa(r.HEnergy),
			formatFloat(r.Weight),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing interval [%g,%g): %w", r.Q2Min, r.Q2Max, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadPrecalculated reads a precalculated weight table file and keeps the
// rows for the beam energies. A non-empty collision also filters by
// collision type.
func LoadPrecalculated(path string, eEnergy, hEnergy int, collision constants.CollisionType) ([]PrecalculatedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening precalculated weights: %w", err)
	}
	defer f.Close()
	return ParsePrecalculated(f, eEnergy, hEnergy, collision)
}

// ParsePrecalculated is LoadPrecalculated over a reader.
func ParsePrecalculated(r io.Reader, eEnergy, hEnergy int, collision constants.CollisionType) ([]PrecalculatedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("precalculated weights file is empty: %w", quickerr.ErrConfig)
		}
		return nil, fmt.Errorf("reading precalculated header: %w", err)
	}

	var out []PrecalculatedRow
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading precalculated line %d: %w", line, err)
		}
		row, err := parsePrecalculatedRow(fields)
		if err != nil {
			return nil, fmt.Errorf("precalculated line %d: %v: %w", line, err, quickerr.ErrConfig)
		}
		if row.EEnergy != eEnergy || row.HEnergy != hEnergy {
			continue
		}
		if collision != "" && row.Collision != collision {
			continue
		}
		out = append(out, row)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no precalculated weights for %dx%d: %w", eEnergy, hEnergy, quickerr.ErrLookupNotFound)
	}
	return out, nil
}

func parsePrecalculatedRow(fields []string) (PrecalculatedRow, error) {
	if len(fields) < len(precalculatedHeader) {
		return PrecalculatedRow{}, fmt.Errorf("need %d columns, got %d", len(precalculatedHeader), len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	q2Min, errMin := strconv.ParseFloat(fields[0], 64)
	q2Max, errMax := strconv.ParseFloat(fields[1], 64)
	e, errE := strconv.Atoi(fields[3])
	h, errH := strconv.Atoi(fields[4])
	w, errW := strconv.ParseFloat(fields[5], 64)
	if err := errors.Join(errMin, errMax, errE, errH, errW); err != nil {
		return PrecalculatedRow{}, err
	}
	return PrecalculatedRow{
		Q2Min:     q2Min,
		Q2Max:     q2Max,
		Collision: constants.CollisionType(fields[2]),
		EEnergy:   e,
		HEnergy:   h,
		Weight:    w,
	}, nil
}
