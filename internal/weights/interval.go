// Package weights turns a batch of simulated Q2 samples into per-event
// weights that normalize the combined sample to one integrated luminosity.
package weights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/manifest"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Interval is one unique simulated Q2 cut with its combined statistics.
type Interval struct {
	Q2Min        float64 `json:"q2_min"`
	Q2Max        float64 `json:"q2_max"`
	CrossSection float64 `json:"cross_section_pb"`
	Events       int64   `json:"events"`

	// Collision is inferred from the contributing filenames.
	Collision constants.CollisionType `json:"collision_type"`
}

// Contains reports whether q2 lies in [Q2Min, Q2Max).
func (iv Interval) Contains(q2 float64) bool {
	return inRange(q2, iv.Q2Min, iv.Q2Max, false)
}

// Covers reports whether other's range lies inside iv, with the lower edge
// of other half-open and its upper edge closed against iv.Q2Max.
func (iv Interval) Covers(other Interval) bool {
	return inRange(other.Q2Min, iv.Q2Min, iv.Q2Max, false) &&
		inRange(other.Q2Max, iv.Q2Min, iv.Q2Max, true)
}

func inRange(v, lo, hi float64, inclusiveUpper bool) bool {
	if inclusiveUpper {
		return v >= lo && v <= hi
	}
	return v >= lo && v < hi
}

// grouped is the intermediate result of collapsing manifest records.
type grouped struct {
	intervals []Interval
	// provided holds the first user weight seen per interval, or a negative value.
	provided []float64
	eEnergy  int
	hEnergy  int
}

// groupRecords collapses records sharing a (Q2Min, Q2Max) cut. Event counts
// are summed and the last cross section seen wins. All records must share
// one beam energy pair.
func groupRecords(records []manifest.Record, protonMarker string) (grouped, error) {
	if len(records) == 0 {
		return grouped{}, fmt.Errorf("no manifest records: %w", quickerr.ErrConfig)
	}
	if protonMarker == "" {
		protonMarker = constants.DefaultProtonMarker
	}

	g := grouped{eEnergy: records[0].EEnergy, hEnergy: records[0].HEnergy}
	index := make(map[[2]int]int)
	for _, rec := range records {
		if rec.EEnergy != g.eEnergy || rec.HEnergy != g.hEnergy {
			return grouped{}, fmt.Errorf("mixed beam energies %dx%d and %dx%d: %w",
				g.eEnergy, g.hEnergy, rec.EEnergy, rec.HEnergy, quickerr.ErrConfig)
		}

		key := [2]int{rec.Q2Min, rec.Q2Max}
		i, ok := index[key]
		if !ok {
			i = len(g.intervals)
			index[key] = i
			g.intervals = append(g.intervals, Interval{
				Q2Min:     float64(rec.Q2Min),
				Q2Max:     float64(rec.Q2Max),
				Collision: constants.CollisionEN,
			})
			g.provided = append(g.provided, constants.AbsentWeight)
		}

		iv := &g.intervals[i]
		iv.Events += int64(rec.NEvents)
		iv.CrossSection = rec.CrossSectionPb
		if strings.Contains(rec.Filename, protonMarker) {
			iv.Collision = constants.CollisionEP
		}
		if rec.HasWeight() && g.provided[i] < 0 {
			g.provided[i] = rec.Weight
		}
	}

	sortIntervals(g.intervals, g.provided)
	return g, nil
}

// sortIntervals orders by ascending Q2Min; among equal minima the widest
// interval comes first. extra is permuted alongside when non-nil.
func sortIntervals(ivs []Interval, extra []float64) {
	perm := make([]int, len(ivs))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		x, y := ivs[perm[a]], ivs[perm[b]]
		if x.Q2Min != y.Q2Min {
			return x.Q2Min < y.Q2Min
		}
		return x.Q2Max > y.Q2Max
	})

	sortedIvs := make([]Interval, len(ivs))
	var sortedExtra []float64
	if extra != nil {
		sortedExtra = make([]float64, len(extra))
	}
	for to, from := range perm {
		sortedIvs[to] = ivs[from]
		if extra != nil {
			sortedExtra[to] = extra[from]
		}
	}
	copy(ivs, sortedIvs)
	copy(extra, sortedExtra)
}
