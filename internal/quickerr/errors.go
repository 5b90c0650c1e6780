// Package quickerr defines the error kinds shared by the weighting, binning
// and migration engines. Callers wrap them with fmt.Errorf("...: %w") and
// match them with errors.Is.
package quickerr

import "errors"

var (
	// ErrConfig reports a missing or malformed key in a geometry, weight or
	// luminosity description, or mismatched array lengths.
	ErrConfig = errors.New("configuration error")

	// ErrDimensionMismatch reports an observable vector or multi-index whose
	// length differs from the declared dimension count.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrRangeResolution reports a set of Q2 intervals that is neither fully
	// nested nor a clean chain.
	ErrRangeResolution = errors.New("q2 ranges are neither nested nor chained")

	// ErrZeroLuminosity reports a Q2 bracket with no covering simulated luminosity.
	ErrZeroLuminosity = errors.New("zero simulated luminosity")

	// ErrLookupNotFound reports a missing luminosity or precalculated-weight row.
	ErrLookupNotFound = errors.New("lookup not found")

	// ErrOutOfRange reports a bin index outside the migration matrix.
	ErrOutOfRange = errors.New("index out of range")
)
