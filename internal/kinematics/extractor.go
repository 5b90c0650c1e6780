package kinematics

import (
	"fmt"

	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Extractor reads a fixed list of branches out of records of one kind.
// It is immutable and safe for concurrent use.
type Extractor struct {
	kind     Kind
	branches []string
	extract  func(Record) ([]float64, error)
}

// NewExtractor binds branches, usually a geometry's reco branches, to the
// fields of kind. Unknown branch names are a configuration error.
func NewExtractor(kind Kind, branches []string) (*Extractor, error) {
	e := &Extractor{kind: kind, branches: append([]string(nil), branches...)}
	var err error
	switch kind {
	case KindDIS:
		e.extract, err = extractor(disFields, kind, branches)
	case KindSIDIS:
		e.extract, err = extractor(sidisFields, kind, branches)
	case KindDihadron:
		e.extract, err = extractor(dihadronFields, kind, branches)
	default:
		err = fmt.Errorf("unknown analysis type %q: %w", kind, quickerr.ErrConfig)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func extractor[T any](fields []field[T], kind Kind, branches []string) (func(Record) ([]float64, error), error) {
	refs, err := bind(fields, kind, branches)
	if err != nil {
		return nil, err
	}
	return func(r Record) ([]float64, error) {
		rec, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("expected a %s record, got %s: %w", kind, r.Kind(), quickerr.ErrConfig)
		}
		out := make([]float64, len(refs))
		for i, ref := range refs {
			out[i] = *ref(&rec)
		}
		return out, nil
	}, nil
}

// Kind returns the record kind the extractor accepts.
func (e *Extractor) Kind() Kind { return e.kind }

// Branches returns the bound branch names in order.
func (e *Extractor) Branches() []string { return append([]string(nil), e.branches...) }

// Extract returns the record's values in branch order.
func (e *Extractor) Extract(r Record) ([]float64, error) {
	return e.extract(r)
}

// Decoder builds records of one kind from positional values, the inverse
// of Extractor. It is used by tabular event sources.
type Decoder struct {
	kind    Kind
	columns int
	decode  func([]float64) Record
}

// NewDecoder binds column names to the fields of kind. Columns may use any
// alias and casing; unknown columns are a configuration error.
func NewDecoder(kind Kind, columns []string) (*Decoder, error) {
	d := &Decoder{kind: kind, columns: len(columns)}
	var err error
	switch kind {
	case KindDIS:
		d.decode, err = decoder(disFields, kind, columns)
	case KindSIDIS:
		d.decode, err = decoder(sidisFields, kind, columns)
	case KindDihadron:
		d.decode, err = decoder(dihadronFields, kind, columns)
	default:
		err = fmt.Errorf("unknown analysis type %q: %w", kind, quickerr.ErrConfig)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func decoder[T Record](fields []field[T], kind Kind, columns []string) (func([]float64) Record, error) {
	refs, err := bind(fields, kind, columns)
	if err != nil {
		return nil, err
	}
	return func(values []float64) Record {
		var rec T
		for i, ref := range refs {
			*ref(&rec) = values[i]
		}
		return rec
	}, nil
}

// Decode returns a record holding values; fields without a column are zero.
func (d *Decoder) Decode(values []float64) (Record, error) {
	if len(values) != d.columns {
		return nil, fmt.Errorf("got %d values for %d columns: %w", len(values), d.columns, quickerr.ErrDimensionMismatch)
	}
	return d.decode(values), nil
}
