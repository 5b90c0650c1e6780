package binning

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/quicksim/internal/quickerr"
	"gopkg.in/yaml.v3"
)

// columnsPerDimension is min, max, true branch, reco branch.
const columnsPerDimension = 4

type yamlScheme struct {
	EnergyConfig string       `yaml:"energy_config"`
	Dimensions   []*Dimension `yaml:"dimensions"`
}

// LoadYAML reads a rectangular binning scheme. The scheme is named after
// the file.
func LoadYAML(path string) (*Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading binning scheme: %w", err)
	}
	g, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("binning scheme %s: %w", filepath.Base(path), err)
	}
	g.Name = schemeName(path)
	return g, nil
}

// ParseYAML decodes a rectangular binning scheme:
//
//	energy_config: "10x100"
//	dimensions:
//	  - name: Q2
//	    branch_true: Q2
//	    branch_reco: Q2
//	    edges: [1, 10, 100]
func ParseYAML(data []byte) (*Geometry, error) {
	var raw yamlScheme
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %v: %w", err, quickerr.ErrConfig)
	}
	if raw.EnergyConfig == "" {
		return nil, fmt.Errorf("'energy_config' key not found: %w", quickerr.ErrConfig)
	}
	if len(raw.Dimensions) == 0 {
		return nil, fmt.Errorf("'dimensions' key not found or empty: %w", quickerr.ErrConfig)
	}

	dims := make([]Dimension, len(raw.Dimensions))
	for i, d := range raw.Dimensions {
		if d == nil || d.Name == "" {
			return nil, fmt.Errorf("dimension at index %d is missing the 'name' key: %w", i, quickerr.ErrConfig)
		}
		if d.BranchTrue == "" {
			return nil, fmt.Errorf("dimension %s is missing the 'branch_true' key: %w", d.Name, quickerr.ErrConfig)
		}
		if d.BranchReco == "" {
			return nil, fmt.Errorf("dimension %s is missing the 'branch_reco' key: %w", d.Name, quickerr.ErrConfig)
		}
		if d.Edges == nil {
			return nil, fmt.Errorf("dimension %s is missing the 'edges' key: %w", d.Name, quickerr.ErrConfig)
		}
		dims[i] = *d
	}
	return NewRectangular(raw.EnergyConfig, dims)
}

// LoadCSV reads an explicit region list. The scheme is named after the file.
func LoadCSV(path, energyConfig string) (*Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening binning scheme: %w", err)
	}
	defer f.Close()

	g, err := ParseCSV(f, energyConfig)
	if err != nil {
		return nil, fmt.Errorf("binning scheme %s: %w", filepath.Base(path), err)
	}
	g.Name = schemeName(path)
	return g, nil
}

// ParseCSV decodes an explicit region list with four columns per dimension
// (min, max, true branch, reco branch) and one region per row. Dimension
// names come from the header's min column, e.g. "energy_min" or "bin1min".
func ParseCSV(r io.Reader, energyConfig string) (*Geometry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("binning csv is empty: %w", quickerr.ErrConfig)
		}
		return nil, fmt.Errorf("reading binning csv header: %w", err)
	}
	if len(header) == 0 || len(header)%columnsPerDimension != 0 {
		return nil, fmt.Errorf("binning csv header has %d columns, want a multiple of %d: %w", len(header), columnsPerDimension, quickerr.ErrConfig)
	}

	n := len(header) / columnsPerDimension
	dims := make([]Dimension, n)
	for d := range dims {
		dims[d].Name = dimensionName(header[d*columnsPerDimension])
	}

	var regions []Region
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("binning csv line %d: %v: %w", line, err, quickerr.ErrConfig)
		}

		region := Region{Min: make([]float64, n), Max: make([]float64, n)}
		for d := 0; d < n; d++ {
			col := fields[d*columnsPerDimension : (d+1)*columnsPerDimension]
			lo, errLo := strconv.ParseFloat(strings.TrimSpace(col[0]), 64)
			hi, errHi := strconv.ParseFloat(strings.TrimSpace(col[1]), 64)
			if err := errors.Join(errLo, errHi); err != nil {
				return nil, fmt.Errorf("binning csv line %d dimension %d: %v: %w", line, d, err, quickerr.ErrConfig)
			}
			region.Min[d], region.Max[d] = lo, hi

			branchTrue, branchReco := strings.TrimSpace(col[2]), strings.TrimSpace(col[3])
			if len(regions) == 0 {
				dims[d].BranchTrue, dims[d].BranchReco = branchTrue, branchReco
			} else if dims[d].BranchTrue != branchTrue || dims[d].BranchReco != branchReco {
				return nil, fmt.Errorf("binning csv line %d: dimension %d branches changed from %s/%s to %s/%s: %w",
					line, d, dims[d].BranchTrue, dims[d].BranchReco, branchTrue, branchReco, quickerr.ErrConfig)
			}
		}
		regions = append(regions, region)
	}

	return NewExplicit(energyConfig, dims, regions)
}

func dimensionName(minColumn string) string {
	name := strings.TrimSpace(minColumn)
	name = strings.TrimSuffix(name, "min")
	name = strings.TrimSuffix(name, "_")
	return name
}

func schemeName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
