package weights

import (
	"fmt"

	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Resolution names how the total cross section was decided.
type Resolution string

const (
	// ResolutionNested means the first interval contains every other one.
	ResolutionNested Resolution = "nested"

	// ResolutionChain means the intervals partition Q2 edge to edge.
	ResolutionChain Resolution = "chain"
)

// ResolveTotalCrossSection decides the total cross section of intervals
// sorted by ascending Q2Min.
//
// When the first interval contains every other interval its cross section
// is the total, since the narrower samples are subsets of it. When each
// interval ends where the next begins the cross sections are summed.
// Anything else has no well-defined total.
func ResolveTotalCrossSection(ivs []Interval) (float64, Resolution, error) {
	if len(ivs) == 0 {
		return 0, "", fmt.Errorf("no intervals: %w", quickerr.ErrConfig)
	}

	nested := true
	for _, iv := range ivs[1:] {
		if !(ivs[0].Q2Min <= iv.Q2Min && ivs[0].Q2Max >= iv.Q2Max) {
			nested = false
			break
		}
	}
	if nested {
		return ivs[0].CrossSection, ResolutionNested, nil
	}

	for i := 0; i+1 < len(ivs); i++ {
		if ivs[i].Q2Max != ivs[i+1].Q2Min {
			return 0, "", fmt.Errorf("interval [%g,%g) does not meet [%g,%g): %w",
				ivs[i].Q2Min, ivs[i].Q2Max, ivs[i+1].Q2Min, ivs[i+1].Q2Max, quickerr.ErrRangeResolution)
		}
	}

	total := 0.0
	for _, iv := range ivs {
		total += iv.CrossSection
	}
	return total, ResolutionChain, nil
}
