// Package binning maps observable vectors onto N-dimensional bins and
// accumulates weighted counts per bin.
package binning

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Dimension is one binned observable.
type Dimension struct {
	Name       string    `yaml:"name" json:"name"`
	BranchTrue string    `yaml:"branch_true" json:"branch_true"`
	BranchReco string    `yaml:"branch_reco" json:"branch_reco"`
	Edges      []float64 `yaml:"edges" json:"edges"`
}

// NBins returns the number of bins along the dimension.
func (d Dimension) NBins() int {
	if len(d.Edges) < 2 {
		return 0
	}
	return len(d.Edges) - 1
}

// Find returns the bin holding v, using half-open [low, high) bins, or
// constants.InvalidBin when v is outside the edges.
func (d Dimension) Find(v float64) int {
	if len(d.Edges) < 2 || math.IsNaN(v) || v < d.Edges[0] || v >= d.Edges[len(d.Edges)-1] {
		return constants.InvalidBin
	}
	// First edge strictly greater than v.
	upper := sort.Search(len(d.Edges), func(i int) bool { return d.Edges[i] > v })
	return upper - 1
}

func (d Dimension) validate() error {
	if d.Name == "" {
		return fmt.Errorf("dimension is missing 'name': %w", quickerr.ErrConfig)
	}
	if len(d.Edges) < 2 {
		return fmt.Errorf("dimension %s needs at least 2 edges, got %d: %w", d.Name, len(d.Edges), quickerr.ErrConfig)
	}
	for i := 1; i < len(d.Edges); i++ {
		if !(d.Edges[i] > d.Edges[i-1]) {
			return fmt.Errorf("dimension %s edges must be strictly ascending at index %d: %w", d.Name, i, quickerr.ErrConfig)
		}
	}
	return nil
}

// Region is an axis-aligned N-dimensional box [Min[d], Max[d]).
type Region struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// Contains reports whether every value lies inside the region.
func (r Region) Contains(values []float64) bool {
	for d, v := range values {
		if !(r.Min[d] <= v && v < r.Max[d]) {
			return false
		}
	}
	return true
}

// Kind distinguishes rectangular grids from explicit region lists.
type Kind string

const (
	KindRectangular Kind = "rectangular"
	KindExplicit    Kind = "explicit"
)

// FallbackPolicy decides what an explicit geometry does with a point that
// no declared region contains.
type FallbackPolicy string

const (
	// FallbackEdgeProjection searches each dimension's derived edges
	// independently. The resulting combination may not be a declared region.
	FallbackEdgeProjection FallbackPolicy = "projection"

	// FallbackStrict treats a miss as out of range in every dimension.
	FallbackStrict FallbackPolicy = "strict"
)

// Valid returns true if the policy is a recognized value.
func (p FallbackPolicy) Valid() bool {
	switch p {
	case FallbackEdgeProjection, FallbackStrict:
		return true
	}
	return false
}

// Geometry is a binning scheme. It is read-only after construction.
type Geometry struct {
	// Name identifies the scheme, usually the source file's base name.
	Name         string
	EnergyConfig string

	kind       Kind
	dimensions []Dimension
	regions    []Region
	fallback   FallbackPolicy
}

// NewRectangular builds a Cartesian grid from per-dimension edges.
func NewRectangular(energyConfig string, dims []Dimension) (*Geometry, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("binning needs at least one dimension: %w", quickerr.ErrConfig)
	}
	out := make([]Dimension, len(dims))
	for i, d := range dims {
		if err := d.validate(); err != nil {
			return nil, err
		}
		d.Edges = append([]float64(nil), d.Edges...)
		out[i] = d
	}
	return &Geometry{
		EnergyConfig: energyConfig,
		kind:         KindRectangular,
		dimensions:   out,
		fallback:     FallbackEdgeProjection,
	}, nil
}

// NewExplicit builds a geometry from declared regions. dims supplies names
// and branches; their edges are derived as the sorted unique region bounds.
func NewExplicit(energyConfig string, dims []Dimension, regions []Region) (*Geometry, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("binning needs at least one dimension: %w", quickerr.ErrConfig)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("explicit binning needs at least one region: %w", quickerr.ErrConfig)
	}

	n := len(dims)
	bounds := make([]map[float64]struct{}, n)
	for d := range bounds {
		bounds[d] = make(map[float64]struct{})
	}
	owned := make([]Region, len(regions))
	for i, r := range regions {
		if len(r.Min) != n || len(r.Max) != n {
			return nil, fmt.Errorf("region %d has %d/%d bounds for %d dimensions: %w", i, len(r.Min), len(r.Max), n, quickerr.ErrConfig)
		}
		for d := 0; d < n; d++ {
			if !(r.Max[d] > r.Min[d]) {
				return nil, fmt.Errorf("region %d dimension %d: max must exceed min: %w", i, d, quickerr.ErrConfig)
			}
			bounds[d][r.Min[d]] = struct{}{}
			bounds[d][r.Max[d]] = struct{}{}
		}
		owned[i] = Region{
			Min: append([]float64(nil), r.Min...),
			Max: append([]float64(nil), r.Max...),
		}
	}

	out := make([]Dimension, n)
	for d, dim := range dims {
		edges := make([]float64, 0, len(bounds[d]))
		for v := range bounds[d] {
			edges = append(edges, v)
		}
		sort.Float64s(edges)
		dim.Edges = edges
		if dim.Name == "" {
			dim.Name = dim.BranchReco
		}
		if err := dim.validate(); err != nil {
			return nil, err
		}
		out[d] = dim
	}

	return &Geometry{
		EnergyConfig: energyConfig,
		kind:         KindExplicit,
		dimensions:   out,
		regions:      owned,
		fallback:     FallbackEdgeProjection,
	}, nil
}

// SetFallback selects the explicit-geometry miss policy. It has no effect
// on rectangular geometries.
func (g *Geometry) SetFallback(p FallbackPolicy) error {
	if !p.Valid() {
		return fmt.Errorf("unknown fallback policy %q: %w", p, quickerr.ErrConfig)
	}
	g.fallback = p
	return nil
}

// Fallback returns the explicit-geometry miss policy.
func (g *Geometry) Fallback() FallbackPolicy { return g.fallback }

// Kind returns whether the geometry is a grid or a region list.
func (g *Geometry) Kind() Kind { return g.kind }

// NumDimensions returns the dimension count.
func (g *Geometry) NumDimensions() int { return len(g.dimensions) }

// Dimensions returns a copy of the dimensions.
func (g *Geometry) Dimensions() []Dimension {
	out := make([]Dimension, len(g.dimensions))
	for i, d := range g.dimensions {
		d.Edges = append([]float64(nil), d.Edges...)
		out[i] = d
	}
	return out
}

// Regions returns a copy of the declared regions. It is nil for
// rectangular geometries.
func (g *Geometry) Regions() []Region {
	if g.regions == nil {
		return nil
	}
	out := make([]Region, len(g.regions))
	for i, r := range g.regions {
		out[i] = Region{Min: append([]float64(nil), r.Min...), Max: append([]float64(nil), r.Max...)}
	}
	return out
}

// RecoBranches returns each dimension's reconstructed branch name, in
// dimension order.
func (g *Geometry) RecoBranches() []string {
	out := make([]string, len(g.dimensions))
	for i, d := range g.dimensions {
		out[i] = d.BranchReco
	}
	return out
}

// TrueBranches returns each dimension's generated branch name, in
// dimension order.
func (g *Geometry) TrueBranches() []string {
	out := make([]string, len(g.dimensions))
	for i, d := range g.dimensions {
		out[i] = d.BranchTrue
	}
	return out
}

// FindBins returns the per-dimension bin index of values, with
// constants.InvalidBin marking a dimension that is out of range.
func (g *Geometry) FindBins(values []float64) ([]int, error) {
	if len(values) != len(g.dimensions) {
		return nil, fmt.Errorf("got %d values for %d dimensions: %w", len(values), len(g.dimensions), quickerr.ErrDimensionMismatch)
	}

	if g.kind == KindExplicit {
		if bins, ok := g.findRegion(values); ok {
			return bins, nil
		}
		if g.fallback == FallbackStrict {
			bins := make([]int, len(values))
			for d := range bins {
				bins[d] = constants.InvalidBin
			}
			return bins, nil
		}
	}

	bins := make([]int, len(values))
	for d, v := range values {
		bins[d] = g.dimensions[d].Find(v)
	}
	return bins, nil
}

// findRegion maps the first region containing values back to derived edge
// indices.
func (g *Geometry) findRegion(values []float64) ([]int, bool) {
	for _, r := range g.regions {
		if r.Contains(values) {
			return g.regionBins(r), true
		}
	}
	return nil, false
}

// regionBins returns the derived edge index of each of r's lower bounds.
func (g *Geometry) regionBins(r Region) []int {
	bins := make([]int, len(r.Min))
	for d, lo := range r.Min {
		bins[d] = sort.SearchFloat64s(g.dimensions[d].Edges, lo)
	}
	return bins
}

// Valid reports whether every index is in range.
func Valid(bins []int) bool {
	for _, b := range bins {
		if b == constants.InvalidBin {
			return false
		}
	}
	return true
}

// Key joins bin indices into an accumulator key, keeping dimension order.
func Key(bins []int) string {
	parts := make([]string, len(bins))
	for i, b := range bins {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, constants.BinKeySeparator)
}

// sameShape reports whether two geometries bin identically.
func (g *Geometry) sameShape(o *Geometry) bool {
	if g == o {
		return true
	}
	if g.kind != o.kind || len(g.dimensions) != len(o.dimensions) || len(g.regions) != len(o.regions) {
		return false
	}
	for d := range g.dimensions {
		a, b := g.dimensions[d].Edges, o.dimensions[d].Edges
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}
