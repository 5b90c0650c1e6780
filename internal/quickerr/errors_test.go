package quickerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedKindsMatch(t *testing.T) {
	kinds := []error{
		ErrConfig,
		ErrDimensionMismatch,
		ErrRangeResolution,
		ErrZeroLuminosity,
		ErrLookupNotFound,
		ErrOutOfRange,
	}

	for i, kind := range kinds {
		wrapped := fmt.Errorf("loading bins.yaml: %w", kind)
		if !errors.Is(wrapped, kind) {
			t.Errorf("errors.Is(wrapped, %v) = false, want true", kind)
		}
		for j, other := range kinds {
			if i != j && errors.Is(wrapped, other) {
				t.Errorf("%v unexpectedly matches %v", kind, other)
			}
		}
	}
}
