package binning

import (
	"fmt"
	"math"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Accumulator sums event weights per bin.
//
// An Accumulator is not safe for concurrent use. To fill in parallel, give
// each worker its own Accumulator over the same Geometry and combine them
// with Merge.
type Accumulator struct {
	geom   *Geometry
	counts map[string]float64
}

// NewAccumulator returns an empty accumulator over g.
func NewAccumulator(g *Geometry) *Accumulator {
	return &Accumulator{geom: g, counts: make(map[string]float64)}
}

// Geometry returns the binning the accumulator fills.
func (a *Accumulator) Geometry() *Geometry { return a.geom }

// AddEvent adds weight to the bin holding values. It reports false, and
// changes nothing, when any dimension is out of range.
func (a *Accumulator) AddEvent(values []float64, weight float64) (bool, error) {
	bins, err := a.geom.FindBins(values)
	if err != nil {
		return false, err
	}
	if !Valid(bins) {
		return false, nil
	}
	a.counts[Key(bins)] += weight
	return true, nil
}

// Count returns the accumulated weight of a bin; untouched bins are zero.
func (a *Accumulator) Count(bins []int) float64 {
	return a.counts[Key(bins)]
}

// Len returns the number of bins that received at least one event.
func (a *Accumulator) Len() int { return len(a.counts) }

// Counts returns a copy of the per-key totals.
func (a *Accumulator) Counts() map[string]float64 {
	out := make(map[string]float64, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Total returns the summed weight over every bin.
func (a *Accumulator) Total() float64 {
	total := 0.0
	for _, v := range a.counts {
		total += v
	}
	return total
}

// Merge adds every bin of other into a. Both must share one binning.
func (a *Accumulator) Merge(other *Accumulator) error {
	if !a.geom.sameShape(other.geom) {
		return fmt.Errorf("merging accumulators over different binnings: %w", quickerr.ErrConfig)
	}
	for k, v := range other.counts {
		a.counts[k] += v
	}
	return nil
}

// Row is one line of a binned table. Min and Max hold NaN for a dimension
// without a valid index.
type Row struct {
	Bins  []int
	Min   []float64
	Max   []float64
	Count float64
}

// Rows returns the full table: every grid cell for a rectangular geometry,
// in nested dimension order with the last dimension fastest, or one row per
// declared region for an explicit geometry.
func (a *Accumulator) Rows() []Row {
	dims := a.geom.dimensions
	if a.geom.kind == KindExplicit {
		rows := make([]Row, 0, len(a.geom.regions))
		for _, r := range a.geom.regions {
			bins := a.geom.regionBins(r)
			rows = append(rows, Row{
				Bins:  bins,
				Min:   append([]float64(nil), r.Min...),
				Max:   append([]float64(nil), r.Max...),
				Count: a.counts[Key(bins)],
			})
		}
		return rows
	}

	total := 1
	for _, d := range dims {
		total *= d.NBins()
	}
	rows := make([]Row, 0, total)
	idx := make([]int, len(dims))
	for n := 0; n < total; n++ {
		row := Row{
			Bins:  append([]int(nil), idx...),
			Min:   make([]float64, len(dims)),
			Max:   make([]float64, len(dims)),
			Count: a.counts[Key(idx)],
		}
		for d, b := range idx {
			if b == constants.InvalidBin || b+1 >= len(dims[d].Edges) {
				row.Min[d], row.Max[d] = math.NaN(), math.NaN()
				continue
			}
			row.Min[d], row.Max[d] = dims[d].Edges[b], dims[d].Edges[b+1]
		}
		rows = append(rows, row)

		for d := len(dims) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < dims[d].NBins() {
				break
			}
			idx[d] = 0
		}
	}
	return rows
}
