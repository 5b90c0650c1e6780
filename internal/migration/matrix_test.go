package migration

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/quicksim/internal/quickerr"
)

// sample2x3 has an identity-like response except true bin 0, which splits
// evenly between reco bins 0 and 1.
const sample2x3 = `
energy_config: "5x41"
dimensions:
  names: [Q2, X]
  dims: [2, 3]
  bin_edges:
    Q2: [1, 10, 100]
    X: [0.001, 0.01, 0.1, 1]
migration_response:
  - [50, 50, 0, 0, 0, 0]
  - [0, 100, 0, 0, 0, 0]
  - [0, 0, 100, 0, 0, 0]
  - [0, 0, 0, 100, 0, 0]
  - [0, 0, 0, 0, 100, 0]
  - [0, 0, 0, 0, 10, 90]
true_counts: [1, 2, 3, 4, 5, 6]
`

func mustParse(t *testing.T, data string) *Matrix {
	t.Helper()
	m, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return m
}

func TestParse(t *testing.T) {
	m := mustParse(t, sample2x3)

	if m.EnergyConfig() != "5x41" {
		t.Errorf("expected energy config 5x41, got %s", m.EnergyConfig())
	}
	if m.NumDimensions() != 2 || m.TotalBins() != 6 {
		t.Errorf("expected 2 dimensions and 6 bins, got %d and %d", m.NumDimensions(), m.TotalBins())
	}
	if n, _ := m.BinsInDimension(1); n != 3 {
		t.Errorf("expected 3 bins in X, got %d", n)
	}
	edges, err := m.BinEdges(0)
	if err != nil || len(edges) != 3 || edges[2] != 100 {
		t.Errorf("unexpected Q2 edges %v (err %v)", edges, err)
	}
	if tc := m.TrueCounts(); tc[5] != 6 {
		t.Errorf("unexpected true counts %v", tc)
	}
	if names := m.DimensionNames(); names[0] != "Q2" || names[1] != "X" {
		t.Errorf("unexpected names %v", names)
	}

	if _, err := m.BinsInDimension(2); !errors.Is(err, quickerr.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := m.BinEdges(-1); !errors.Is(err, quickerr.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestParseWithoutTrueCounts(t *testing.T) {
	data := strings.Replace(sample2x3, "true_counts: [1, 2, 3, 4, 5, 6]\n", "", 1)
	m := mustParse(t, data)
	for i, v := range m.TrueCounts() {
		if v != 0 {
			t.Errorf("true count %d = %v, want 0", i, v)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing energy_config", data: strings.Replace(sample2x3, `energy_config: "5x41"`, "", 1)},
		{name: "missing dimensions", data: "energy_config: x\nmigration_response: [[1]]\n"},
		{name: "missing dims", data: "energy_config: x\ndimensions:\n  names: [A]\n  bin_edges: {A: [0, 1]}\nmigration_response: [[1]]\n"},
		{name: "names and dims disagree", data: "energy_config: x\ndimensions:\n  names: [A, B]\n  dims: [1]\n  bin_edges: {A: [0, 1]}\nmigration_response: [[1]]\n"},
		{name: "missing edges for dimension", data: "energy_config: x\ndimensions:\n  names: [A]\n  dims: [1]\n  bin_edges: {B: [0, 1]}\nmigration_response: [[1]]\n"},
		{name: "wrong edge count", data: strings.Replace(sample2x3, "X: [0.001, 0.01, 0.1, 1]", "X: [0.001, 0.01, 1]", 1)},
		{name: "missing response", data: "energy_config: x\ndimensions:\n  names: [A]\n  dims: [1]\n  bin_edges: {A: [0, 1]}\n"},
		{name: "wrong row count", data: "energy_config: x\ndimensions:\n  names: [A]\n  dims: [2]\n  bin_edges: {A: [0, 1, 2]}\nmigration_response: [[1, 0]]\n"},
		{name: "short row", data: strings.Replace(sample2x3, "[0, 0, 0, 100, 0, 0]", "[0, 0, 0, 100, 0]", 1)},
		{name: "wrong true_counts size", data: strings.Replace(sample2x3, "true_counts: [1, 2, 3, 4, 5, 6]", "true_counts: [1, 2]", 1)},
		{name: "zero bins", data: "energy_config: x\ndimensions:\n  names: [A]\n  dims: [0]\n  bin_edges: {A: [0]}\nmigration_response: []\n"},
		{name: "not yaml", data: "energy_config: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); !errors.Is(err, quickerr.ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestFlattenUnflatten(t *testing.T) {
	m := mustParse(t, sample2x3)

	flat, err := m.Flatten([]int{1, 2})
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if flat != 5 {
		t.Errorf("Flatten(1,2) = %d, want 5", flat)
	}

	idx, err := m.Unflatten(5)
	if err != nil {
		t.Fatalf("Unflatten failed: %v", err)
	}
	if idx[0] != 1 || idx[1] != 2 {
		t.Errorf("Unflatten(5) = %v, want [1 2]", idx)
	}

	for f := 0; f < m.TotalBins(); f++ {
		idx, err := m.Unflatten(f)
		if err != nil {
			t.Fatalf("Unflatten(%d) failed: %v", f, err)
		}
		back, err := m.Flatten(idx)
		if err != nil || back != f {
			t.Errorf("round trip of %d gave %d (err %v)", f, back, err)
		}
	}
}

func TestIndexErrors(t *testing.T) {
	m := mustParse(t, sample2x3)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{name: "flatten too few", call: func() error { _, err := m.Flatten([]int{1}); return err }, want: quickerr.ErrDimensionMismatch},
		{name: "flatten out of range", call: func() error { _, err := m.Flatten([]int{0, 3}); return err }, want: quickerr.ErrOutOfRange},
		{name: "flatten negative", call: func() error { _, err := m.Flatten([]int{-1, 0}); return err }, want: quickerr.ErrOutOfRange},
		{name: "unflatten high", call: func() error { _, err := m.Unflatten(6); return err }, want: quickerr.ErrOutOfRange},
		{name: "response true", call: func() error { _, err := m.Response(-1, 0); return err }, want: quickerr.ErrOutOfRange},
		{name: "response reco", call: func() error { _, err := m.Response(0, 6); return err }, want: quickerr.ErrOutOfRange},
		{name: "response multi reco", call: func() error { _, err := m.ResponseMulti([]int{0, 0}, []int{2, 0}); return err }, want: quickerr.ErrOutOfRange},
		{name: "response multi length", call: func() error { _, err := m.ResponseMulti([]int{0}, []int{0, 0}); return err }, want: quickerr.ErrDimensionMismatch},
		{name: "predict", call: func() error { _, err := m.PredictEvents(6, 1); return err }, want: quickerr.ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResponse(t *testing.T) {
	m := mustParse(t, sample2x3)

	got, err := m.Response(5, 4)
	if err != nil {
		t.Fatalf("Response failed: %v", err)
	}
	if got != 10 {
		t.Errorf("Response(5,4) = %v, want 10", got)
	}

	multi, err := m.ResponseMulti([]int{1, 2}, []int{1, 1})
	if err != nil {
		t.Fatalf("ResponseMulti failed: %v", err)
	}
	if multi != got {
		t.Errorf("ResponseMulti = %v, want %v", multi, got)
	}
}

func TestPredictEvents(t *testing.T) {
	m := mustParse(t, sample2x3)

	pred, err := m.PredictEvents(0, 10)
	if err != nil {
		t.Fatalf("PredictEvents failed: %v", err)
	}
	want := []float64{5, 5, 0, 0, 0, 0}
	for i := range want {
		if math.Abs(pred[i]-want[i]) > 1e-12 {
			t.Errorf("pred[%d] = %v, want %v", i, pred[i], want[i])
		}
	}
}

func TestDescribe(t *testing.T) {
	m := mustParse(t, sample2x3)

	got, err := m.Describe([]int{1, 0})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	want := "(10 < Q2 < 100) && (0.001 < X < 0.01)"
	if got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

func TestSummary(t *testing.T) {
	m := mustParse(t, sample2x3)

	var buf bytes.Buffer
	if err := m.Summary(&buf); err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Energy Configuration: 5x41",
		"Dimensions: Q2 (2 bins) X (3 bins)",
		"Total bins (flattened): 6",
		"True: (1 < Q2 < 10) && (0.001 < X < 0.01)  -->  Reco: (1 < Q2 < 10) && (0.01 < X < 0.1) : 50",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
	if n := strings.Count(out, "True: "); n != 36 {
		t.Errorf("expected 36 response lines, got %d", n)
	}
}

func TestHistogramFromCounts(t *testing.T) {
	m := mustParse(t, sample2x3)

	hist, err := m.HistogramFromCounts(map[string]float64{"0_0": 2, "1_2": 3.5})
	if err != nil {
		t.Fatalf("HistogramFromCounts failed: %v", err)
	}
	if hist[0] != 2 || hist[5] != 3.5 || len(hist) != 6 {
		t.Errorf("unexpected histogram %v", hist)
	}

	if _, err := m.HistogramFromCounts(map[string]float64{"2_0": 1}); !errors.Is(err, quickerr.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := m.HistogramFromCounts(map[string]float64{"a_0": 1}); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response_xQ2_5x41.yaml")
	if err := os.WriteFile(path, []byte(sample2x3), 0600); err != nil {
		t.Fatalf("failed to write matrix: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.TotalBins() != 6 {
		t.Errorf("expected 6 bins, got %d", m.TotalBins())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
