// Package migration holds a true-by-reconstructed detector response matrix
// over a flattened N-dimensional bin space and predicts reconstructed yields
// from true yields.
//
// Flat indices are mixed-radix with the last declared dimension varying
// fastest: for dims [2,3], multi-index (1,2) is flat index 1*3+2 = 5.
package migration

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
	"gopkg.in/yaml.v3"
)

// Matrix is a square response table with side TotalBins. Entries are
// percentages. A Matrix is read-only after Load and safe for concurrent use.
type Matrix struct {
	energyConfig string
	names        []string
	dims         []int
	edges        [][]float64
	total        int

	// response is row-major: response[true*total + reco].
	response   []float64
	trueCounts []float64
}

type yamlDimensions struct {
	Names    []string             `yaml:"names"`
	Dims     []int                `yaml:"dims"`
	BinEdges map[string][]float64 `yaml:"bin_edges"`
}

type yamlMatrix struct {
	EnergyConfig      string          `yaml:"energy_config"`
	Dimensions        *yamlDimensions `yaml:"dimensions"`
	MigrationResponse [][]float64     `yaml:"migration_response"`
	TrueCounts        []float64       `yaml:"true_counts"`
}

// Load reads a response matrix description from a YAML file.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading response matrix: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("response matrix %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

// Parse decodes and validates a response matrix description:
//
//	energy_config: "5x41"
//	dimensions:
//	  names: [Q2, X]
//	  dims: [2, 3]
//	  bin_edges:
//	    Q2: [1, 10, 100]
//	    X: [0.001, 0.01, 0.1, 1]
//	migration_response: [[...6 values...], ...6 rows...]
//	true_counts: [...6 values...]   # optional
func Parse(data []byte) (*Matrix, error) {
	var raw yamlMatrix
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %v: %w", err, quickerr.ErrConfig)
	}
	if raw.EnergyConfig == "" {
		return nil, fmt.Errorf("'energy_config' key not found: %w", quickerr.ErrConfig)
	}
	if raw.Dimensions == nil {
		return nil, fmt.Errorf("'dimensions' key not found: %w", quickerr.ErrConfig)
	}
	d := raw.Dimensions
	if len(d.Names) == 0 || len(d.Dims) == 0 || d.BinEdges == nil {
		return nil, fmt.Errorf("'dimensions' must contain 'names', 'dims' and 'bin_edges': %w", quickerr.ErrConfig)
	}
	if len(d.Names) != len(d.Dims) {
		return nil, fmt.Errorf("%d dimension names for %d bin counts: %w", len(d.Names), len(d.Dims), quickerr.ErrConfig)
	}

	m := &Matrix{
		energyConfig: raw.EnergyConfig,
		names:        append([]string(nil), d.Names...),
		dims:         append([]int(nil), d.Dims...),
		edges:        make([][]float64, len(d.Names)),
		total:        1,
	}
	for i, name := range d.Names {
		if d.Dims[i] <= 0 {
			return nil, fmt.Errorf("dimension %s has %d bins: %w", name, d.Dims[i], quickerr.ErrConfig)
		}
		edges, ok := d.BinEdges[name]
		if !ok {
			return nil, fmt.Errorf("missing bin edges for dimension %s: %w", name, quickerr.ErrConfig)
		}
		if len(edges) != d.Dims[i]+1 {
			return nil, fmt.Errorf("dimension %s has %d edges but expected %d: %w", name, len(edges), d.Dims[i]+1, quickerr.ErrConfig)
		}
		m.edges[i] = append([]float64(nil), edges...)
		m.total *= d.Dims[i]
	}

	if raw.MigrationResponse == nil {
		return nil, fmt.Errorf("'migration_response' key not found: %w", quickerr.ErrConfig)
	}
	if len(raw.MigrationResponse) != m.total {
		return nil, fmt.Errorf("migration_response has %d rows, want %d: %w", len(raw.MigrationResponse), m.total, quickerr.ErrConfig)
	}
	m.response = make([]float64, m.total*m.total)
	for i, row := range raw.MigrationResponse {
		if len(row) != m.total {
			return nil, fmt.Errorf("migration_response row %d has %d entries, want %d: %w", i, len(row), m.total, quickerr.ErrConfig)
		}
		copy(m.response[i*m.total:], row)
	}

	m.trueCounts = make([]float64, m.total)
	if raw.TrueCounts != nil {
		if len(raw.TrueCounts) != m.total {
			return nil, fmt.Errorf("true_counts has %d entries, want %d: %w", len(raw.TrueCounts), m.total, quickerr.ErrConfig)
		}
		copy(m.trueCounts, raw.TrueCounts)
	}
	return m, nil
}

// EnergyConfig returns the beam configuration label, e.g. "5x41".
func (m *Matrix) EnergyConfig() string { return m.energyConfig }

// DimensionNames returns the dimension names in declared order.
func (m *Matrix) DimensionNames() []string { return append([]string(nil), m.names...) }

// NumDimensions returns the dimension count.
func (m *Matrix) NumDimensions() int { return len(m.dims) }

// TotalBins returns the product of the per-dimension bin counts.
func (m *Matrix) TotalBins() int { return m.total }

// BinsInDimension returns the bin count of dimension d.
func (m *Matrix) BinsInDimension(d int) (int, error) {
	if d < 0 || d >= len(m.dims) {
		return 0, fmt.Errorf("dimension %d of %d: %w", d, len(m.dims), quickerr.ErrOutOfRange)
	}
	return m.dims[d], nil
}

// BinEdges returns a copy of the edges of dimension d.
func (m *Matrix) BinEdges(d int) ([]float64, error) {
	if d < 0 || d >= len(m.edges) {
		return nil, fmt.Errorf("dimension %d of %d: %w", d, len(m.edges), quickerr.ErrOutOfRange)
	}
	return append([]float64(nil), m.edges[d]...), nil
}

// TrueCounts returns a copy of the stored true-space counts; zeros when the
// description had none.
func (m *Matrix) TrueCounts() []float64 { return append([]float64(nil), m.trueCounts...) }

// Flatten converts a multi-index to its flat index.
func (m *Matrix) Flatten(idx []int) (int, error) {
	if len(idx) != len(m.dims) {
		return 0, fmt.Errorf("got %d indices for %d dimensions: %w", len(idx), len(m.dims), quickerr.ErrDimensionMismatch)
	}
	flat, multiplier := 0, 1
	for d := len(m.dims) - 1; d >= 0; d-- {
		if idx[d] < 0 || idx[d] >= m.dims[d] {
			return 0, fmt.Errorf("index %d in dimension %d with %d bins: %w", idx[d], d, m.dims[d], quickerr.ErrOutOfRange)
		}
		flat += idx[d] * multiplier
		multiplier *= m.dims[d]
	}
	return flat, nil
}

// Unflatten converts a flat index to its multi-index.
func (m *Matrix) Unflatten(flat int) ([]int, error) {
	if err := m.checkFlat(flat); err != nil {
		return nil, err
	}
	idx := make([]int, len(m.dims))
	for d := len(m.dims) - 1; d >= 0; d-- {
		idx[d] = flat % m.dims[d]
		flat /= m.dims[d]
	}
	return idx, nil
}

func (m *Matrix) checkFlat(flat int) error {
	if flat < 0 || flat >= m.total {
		return fmt.Errorf("flat index %d of %d: %w", flat, m.total, quickerr.ErrOutOfRange)
	}
	return nil
}

// Response returns the percentage of true bin trueFlat reconstructed in
// recoFlat.
func (m *Matrix) Response(trueFlat, recoFlat int) (float64, error) {
	if err := m.checkFlat(trueFlat); err != nil {
		return 0, fmt.Errorf("true bin: %w", err)
	}
	if err := m.checkFlat(recoFlat); err != nil {
		return 0, fmt.Errorf("reco bin: %w", err)
	}
	return m.response[trueFlat*m.total+recoFlat], nil
}

// ResponseMulti is Response addressed by multi-indices.
func (m *Matrix) ResponseMulti(trueIdx, recoIdx []int) (float64, error) {
	t, err := m.Flatten(trueIdx)
	if err != nil {
		return 0, fmt.Errorf("true bin: %w", err)
	}
	r, err := m.Flatten(recoIdx)
	if err != nil {
		return 0, fmt.Errorf("reco bin: %w", err)
	}
	return m.response[t*m.total+r], nil
}

// PredictEvents spreads trueYield from one true bin over every reco bin.
func (m *Matrix) PredictEvents(trueFlat int, trueYield float64) ([]float64, error) {
	if err := m.checkFlat(trueFlat); err != nil {
		return nil, err
	}
	row := m.response[trueFlat*m.total : (trueFlat+1)*m.total]
	out := make([]float64, m.total)
	for j, pct := range row {
		out[j] = pct / constants.ResponsePercentScale * trueYield
	}
	return out, nil
}
