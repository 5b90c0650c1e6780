// Package kinematics defines the per-event records produced by the external
// kinematics producer and binds binning branch names to their fields.
package kinematics

import (
	"fmt"
	"strings"

	"github.com/nvandessel/quicksim/internal/quickerr"
	"golang.org/x/text/cases"
)

// Kind is the analysis type, which fixes the record shape.
type Kind string

const (
	KindDIS      Kind = "DIS"
	KindSIDIS    Kind = "SIDIS"
	KindDihadron Kind = "DISIDIS"
)

// ParseKind accepts any casing of a Kind name.
func ParseKind(s string) (Kind, error) {
	switch fold(s) {
	case fold(string(KindDIS)):
		return KindDIS, nil
	case fold(string(KindSIDIS)):
		return KindSIDIS, nil
	case fold(string(KindDihadron)), "dihadron":
		return KindDihadron, nil
	}
	return "", fmt.Errorf("unknown analysis type %q: %w", s, quickerr.ErrConfig)
}

// Record is one kinematic entry of an event.
type Record interface {
	Kind() Kind
	Inclusive() DIS
}

// DIS holds inclusive deep-inelastic kinematics.
type DIS struct {
	Q2 float64
	X  float64
	W  float64
	Y  float64
	Nu float64
}

// SIDIS adds single-hadron kinematics.
type SIDIS struct {
	DIS
	XF    float64
	Eta   float64
	Z     float64
	Phi   float64
	PTLab float64
	PTCom float64
}

// Dihadron adds hadron-pair kinematics.
type Dihadron struct {
	DIS
	ZPair     float64
	PhiH      float64
	PhiR0     float64
	PhiR1     float64
	PTLabPair float64
	PTComPair float64
	XFPair    float64
	ComTh     float64
	Mh        float64
}

func (DIS) Kind() Kind      { return KindDIS }
func (SIDIS) Kind() Kind    { return KindSIDIS }
func (Dihadron) Kind() Kind { return KindDihadron }

// Inclusive returns the record itself.
func (d DIS) Inclusive() DIS { return d }

// field maps branch aliases to a float64 inside T.
type field[T any] struct {
	names []string
	ref   func(*T) *float64
}

var disFields = []field[DIS]{
	{names: []string{"q2"}, ref: func(r *DIS) *float64 { return &r.Q2 }},
	{names: []string{"x"}, ref: func(r *DIS) *float64 { return &r.X }},
	{names: []string{"w"}, ref: func(r *DIS) *float64 { return &r.W }},
	{names: []string{"y"}, ref: func(r *DIS) *float64 { return &r.Y }},
	{names: []string{"nu"}, ref: func(r *DIS) *float64 { return &r.Nu }},
}

var sidisFields = append(lift(disFields, func(r *SIDIS) *DIS { return &r.DIS }),
	field[SIDIS]{names: []string{"xf"}, ref: func(r *SIDIS) *float64 { return &r.XF }},
	field[SIDIS]{names: []string{"eta"}, ref: func(r *SIDIS) *float64 { return &r.Eta }},
	field[SIDIS]{names: []string{"z"}, ref: func(r *SIDIS) *float64 { return &r.Z }},
	field[SIDIS]{names: []string{"phi"}, ref: func(r *SIDIS) *float64 { return &r.Phi }},
	field[SIDIS]{names: []string{"pt_lab", "ptlab"}, ref: func(r *SIDIS) *float64 { return &r.PTLab }},
	field[SIDIS]{names: []string{"pt_com", "ptcom"}, ref: func(r *SIDIS) *float64 { return &r.PTCom }},
)

var dihadronFields = append(lift(disFields, func(r *Dihadron) *DIS { return &r.DIS }),
	field[Dihadron]{names: []string{"z_pair", "zpair"}, ref: func(r *Dihadron) *float64 { return &r.ZPair }},
	field[Dihadron]{names: []string{"phi_h", "phih"}, ref: func(r *Dihadron) *float64 { return &r.PhiH }},
	field[Dihadron]{names: []string{"phi_r_method0", "phir0"}, ref: func(r *Dihadron) *float64 { return &r.PhiR0 }},
	field[Dihadron]{names: []string{"phi_r_method1", "phir1"}, ref: func(r *Dihadron) *float64 { return &r.PhiR1 }},
	field[Dihadron]{names: []string{"pt_lab_pair", "ptlabpair"}, ref: func(r *Dihadron) *float64 { return &r.PTLabPair }},
	field[Dihadron]{names: []string{"pt_com_pair", "ptcompair"}, ref: func(r *Dihadron) *float64 { return &r.PTComPair }},
	field[Dihadron]{names: []string{"xf_pair", "xfpair"}, ref: func(r *Dihadron) *float64 { return &r.XFPair }},
	field[Dihadron]{names: []string{"com_th", "comth"}, ref: func(r *Dihadron) *float64 { return &r.ComTh }},
	field[Dihadron]{names: []string{"mh"}, ref: func(r *Dihadron) *float64 { return &r.Mh }},
)

// lift re-targets fields of an embedded struct onto its parent.
func lift[P, T any](fields []field[T], inner func(*P) *T) []field[P] {
	out := make([]field[P], len(fields))
	for i, f := range fields {
		ref := f.ref
		out[i] = field[P]{names: f.names, ref: func(p *P) *float64 { return ref(inner(p)) }}
	}
	return out
}

// fold builds a Caser per call; a Caser must not be shared between goroutines.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// bind resolves each name to a field, failing on the first unknown name.
func bind[T any](fields []field[T], kind Kind, names []string) ([]func(*T) *float64, error) {
	index := make(map[string]func(*T) *float64)
	for _, f := range fields {
		for _, n := range f.names {
			index[n] = f.ref
		}
	}
	out := make([]func(*T) *float64, len(names))
	for i, n := range names {
		ref, ok := index[fold(n)]
		if !ok {
			return nil, fmt.Errorf("branch %q is not a %s observable: %w", n, kind, quickerr.ErrConfig)
		}
		out[i] = ref
	}
	return out, nil
}

// Branches returns the canonical branch names of kind, one per field.
func Branches(kind Kind) ([]string, error) {
	switch kind {
	case KindDIS:
		return canonical(disFields), nil
	case KindSIDIS:
		return canonical(sidisFields), nil
	case KindDihadron:
		return canonical(dihadronFields), nil
	}
	return nil, fmt.Errorf("unknown analysis type %q: %w", kind, quickerr.ErrConfig)
}

func canonical[T any](fields []field[T]) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.names[0]
	}
	return out
}
