// Package arrowio writes and reads binned tables as Arrow IPC files.
//
// The file has one float64 column pair per dimension (<name>_min,
// <name>_max) and a trailing scaled_events column, matching the CSV layout.
// Missing edges are stored as nulls.
package arrowio

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Extension is the conventional file suffix.
const Extension = ".arrow"

const schemeKey = "quicksim.scheme"

func schemaFor(scheme string, names []string) *arrow.Schema {
	fields := make([]arrow.Field, 0, 2*len(names)+1)
	for _, n := range names {
		fields = append(fields,
			arrow.Field{Name: n + "_min", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			arrow.Field{Name: n + "_max", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		)
	}
	fields = append(fields, arrow.Field{Name: constants.ScaledEventsColumn, Type: arrow.PrimitiveTypes.Float64})
	md := arrow.NewMetadata([]string{schemeKey}, []string{scheme})
	return arrow.NewSchema(fields, &md)
}

// WriteTable writes rows as a single record batch. The file footer needs a
// seekable destination.
func WriteTable(w io.WriteSeeker, scheme string, names []string, rows []binning.Row) error {
	mem := memory.NewGoAllocator()
	schema := schemaFor(scheme, names)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, r := range rows {
		if len(r.Min) != len(names) || len(r.Max) != len(names) {
			return fmt.Errorf("row %d has %d/%d edges for %d dimensions: %w", i, len(r.Min), len(r.Max), len(names), quickerr.ErrDimensionMismatch)
		}
		for d := range names {
			appendEdge(b.Field(2*d).(*array.Float64Builder), r.Min[d])
			appendEdge(b.Field(2*d+1).(*array.Float64Builder), r.Max[d])
		}
		b.Field(2 * len(names)).(*array.Float64Builder).Append(r.Count)
	}

	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("writing arrow record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return nil
}

func appendEdge(b *array.Float64Builder, v float64) {
	if math.IsNaN(v) {
		b.AppendNull()
		return
	}
	b.Append(v)
}

// SaveAccumulator writes an accumulator's full table to path.
func SaveAccumulator(path string, acc *binning.Accumulator) error {
	g := acc.Geometry()
	names := make([]string, 0, g.NumDimensions())
	for _, d := range g.Dimensions() {
		names = append(names, d.Name)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteTable(f, g.Name, names, acc.Rows()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Table is a binned table read from an Arrow file.
type Table struct {
	Scheme string
	binning.Table
}

// ReadTable reads every record batch of an Arrow IPC file.
func ReadTable(r ipc.ReadAtSeeker) (*Table, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %v: %w", err, quickerr.ErrConfig)
	}
	defer fr.Close()

	schema := fr.Schema()
	nf := schema.NumFields()
	if nf < 3 || nf%2 != 1 || schema.Field(nf-1).Name != constants.ScaledEventsColumn {
		return nil, fmt.Errorf("arrow schema is not a binned table: %w", quickerr.ErrConfig)
	}

	n := (nf - 1) / 2
	t := &Table{Table: binning.Table{Names: make([]string, n)}}
	for d := 0; d < n; d++ {
		t.Names[d] = strings.TrimSuffix(schema.Field(2*d).Name, "_min")
	}
	md := schema.Metadata()
	if idx := md.FindKey(schemeKey); idx >= 0 {
		t.Scheme = md.Values()[idx]
	}

	for i := 0; i < fr.NumRecords(); i++ {
		// Owned by the reader until the next call.
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading arrow record %d: %w", i, err)
		}
		cols := make([]*array.Float64, nf)
		for c := 0; c < nf; c++ {
			col, ok := rec.Column(c).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("arrow column %s is %s, want float64: %w", schema.Field(c).Name, rec.Column(c).DataType(), quickerr.ErrConfig)
			}
			cols[c] = col
		}
		for k := 0; k < int(rec.NumRows()); k++ {
			row := binning.Row{Min: make([]float64, n), Max: make([]float64, n), Count: cols[nf-1].Value(k)}
			for d := 0; d < n; d++ {
				row.Min[d] = edgeAt(cols[2*d], k)
				row.Max[d] = edgeAt(cols[2*d+1], k)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t, nil
}

func edgeAt(col *array.Float64, i int) float64 {
	if col.IsNull(i) {
		return math.NaN()
	}
	return col.Value(i)
}

// LoadFile reads an Arrow table from path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadTable(f)
}
