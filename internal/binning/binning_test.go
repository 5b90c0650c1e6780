package binning

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

const sample2DYAML = `
energy_config: "example_energy"
dimensions:
  - name: "energy"
    branch_true: "true_energy"
    branch_reco: "reco_energy"
    edges: [0, 10, 20]
  - name: "angle"
    branch_true: "true_angle"
    branch_reco: "reco_angle"
    edges: [0, 50, 100]
`

const sample2DCSV = `bin1min,bin1max,bin1_branch_true,bin1_branch_reco,bin2min,bin2max,bin2_branch_true,bin2_branch_reco
0,10,true_energy,reco_energy,0,50,true_angle,reco_angle
0,10,true_energy,reco_energy,50,100,true_angle,reco_angle
10,20,true_energy,reco_energy,0,50,true_angle,reco_angle
10,20,true_energy,reco_energy,50,100,true_angle,reco_angle
`

func mustYAML(t *testing.T, data string) *Geometry {
	t.Helper()
	g, err := ParseYAML([]byte(data))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	return g
}

func mustCSV(t *testing.T, data string) *Geometry {
	t.Helper()
	g, err := ParseCSV(strings.NewReader(data), "example_energy")
	if err != nil {
		t.Fatalf("ParseCSV failed: %v", err)
	}
	return g
}

func TestDimensionFindBoundaries(t *testing.T) {
	d := Dimension{Name: "x", Edges: []float64{0, 10, 20}}

	tests := []struct {
		value float64
		want  int
	}{
		{value: 0, want: 0},
		{value: 5, want: 0},
		{value: 9.999, want: 0},
		{value: 10, want: 1},
		{value: 19.999, want: 1},
		{value: 20, want: constants.InvalidBin},
		{value: -0.001, want: constants.InvalidBin},
		{value: 1e9, want: constants.InvalidBin},
		{value: math.NaN(), want: constants.InvalidBin},
	}

	for _, tt := range tests {
		if got := d.Find(tt.value); got != tt.want {
			t.Errorf("Find(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseYAML(t *testing.T) {
	g := mustYAML(t, sample2DYAML)

	if g.EnergyConfig != "example_energy" {
		t.Errorf("expected energy config example_energy, got %s", g.EnergyConfig)
	}
	if g.Kind() != KindRectangular {
		t.Errorf("expected rectangular geometry, got %s", g.Kind())
	}
	dims := g.Dimensions()
	if len(dims) != 2 || dims[1].Name != "angle" || dims[1].NBins() != 2 {
		t.Errorf("unexpected dimensions: %+v", dims)
	}

	reco := g.RecoBranches()
	if len(reco) != 2 || reco[0] != "reco_energy" || reco[1] != "reco_angle" {
		t.Errorf("unexpected reco branches: %v", reco)
	}
	if tb := g.TrueBranches(); tb[0] != "true_energy" {
		t.Errorf("unexpected true branches: %v", tb)
	}
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "missing energy_config", data: "dimensions:\n  - {name: a, branch_true: a, branch_reco: a, edges: [0, 1]}\n"},
		{name: "missing dimensions", data: "energy_config: x\n"},
		{name: "missing name", data: "energy_config: x\ndimensions:\n  - {branch_true: a, branch_reco: a, edges: [0, 1]}\n"},
		{name: "missing branch_true", data: "energy_config: x\ndimensions:\n  - {name: a, branch_reco: a, edges: [0, 1]}\n"},
		{name: "missing branch_reco", data: "energy_config: x\ndimensions:\n  - {name: a, branch_true: a, edges: [0, 1]}\n"},
		{name: "missing edges", data: "energy_config: x\ndimensions:\n  - {name: a, branch_true: a, branch_reco: a}\n"},
		{name: "single edge", data: "energy_config: x\ndimensions:\n  - {name: a, branch_true: a, branch_reco: a, edges: [1]}\n"},
		{name: "descending edges", data: "energy_config: x\ndimensions:\n  - {name: a, branch_true: a, branch_reco: a, edges: [0, 2, 1]}\n"},
		{name: "edges not a sequence", data: "energy_config: x\ndimensions:\n  - {name: a, branch_true: a, branch_reco: a, edges: 3}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseYAML([]byte(tt.data)); !errors.Is(err, quickerr.ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestFindBinsDimensionMismatch(t *testing.T) {
	g := mustYAML(t, sample2DYAML)
	if _, err := g.FindBins([]float64{1}); !errors.Is(err, quickerr.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	acc := NewAccumulator(g)
	if _, err := acc.AddEvent([]float64{1, 2, 3}, 1); !errors.Is(err, quickerr.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch from AddEvent, got %v", err)
	}
}

func TestExplicitCSVMatchesYAML(t *testing.T) {
	yamlGeom := mustYAML(t, sample2DYAML)
	csvGeom := mustCSV(t, sample2DCSV)

	if csvGeom.Kind() != KindExplicit {
		t.Fatalf("expected explicit geometry, got %s", csvGeom.Kind())
	}

	events := [][]float64{
		{5, 30},
		{5, 75},
		{15, 30},
		{15, 75},
		{25, 30},
		{10, 50},
	}
	for _, ev := range events {
		yb, err := yamlGeom.FindBins(ev)
		if err != nil {
			t.Fatalf("FindBins yaml: %v", err)
		}
		cb, err := csvGeom.FindBins(ev)
		if err != nil {
			t.Fatalf("FindBins csv: %v", err)
		}
		if Key(yb) != Key(cb) {
			t.Errorf("event %v: yaml key %s, csv key %s", ev, Key(yb), Key(cb))
		}
	}
}

func TestParseCSVDerivesEdges(t *testing.T) {
	g := mustCSV(t, sample2DCSV)
	dims := g.Dimensions()
	if dims[0].Name != "bin1" || dims[1].Name != "bin2" {
		t.Errorf("unexpected names: %s, %s", dims[0].Name, dims[1].Name)
	}
	want := []float64{0, 50, 100}
	for i, e := range dims[1].Edges {
		if e != want[i] {
			t.Errorf("edge %d = %v, want %v", i, e, want[i])
		}
	}
	if dims[0].BranchReco != "reco_energy" {
		t.Errorf("unexpected reco branch %s", dims[0].BranchReco)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "bad header width", data: "a,b,c\n1,2,3\n"},
		{name: "no regions", data: "amin,amax,t,r\n"},
		{name: "bad number", data: "amin,amax,t,r\n0,ten,t,r\n"},
		{name: "inverted region", data: "amin,amax,t,r\n10,0,t,r\n"},
		{name: "branch change", data: "amin,amax,t,r\n0,1,t,r\n1,2,t,other\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.data), "x"); !errors.Is(err, quickerr.ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}

// irregularCSV leaves the [10,20) x [50,100) cell undeclared.
const irregularCSV = `xmin,xmax,xt,xr,ymin,ymax,yt,yr
0,10,xt,xr,0,50,yt,yr
0,10,xt,xr,50,100,yt,yr
10,20,xt,xr,0,100,yt,yr
`

func TestExplicitFallbackPolicy(t *testing.T) {
	g := mustCSV(t, irregularCSV)

	// Inside the tall region: mapped to its lower bounds.
	bins, err := g.FindBins([]float64{15, 75})
	if err != nil {
		t.Fatalf("FindBins failed: %v", err)
	}
	if Key(bins) != "1_0" {
		t.Errorf("expected region key 1_0, got %s", Key(bins))
	}

	// Outside every region, but inside the derived edges.
	if g.Fallback() != FallbackEdgeProjection {
		t.Fatalf("expected projection fallback by default, got %s", g.Fallback())
	}
	bins, err = g.FindBins([]float64{25, 75})
	if err != nil {
		t.Fatalf("FindBins failed: %v", err)
	}
	if Key(bins) != "-1_1" {
		t.Errorf("expected projected key -1_1, got %s", Key(bins))
	}

	if err := g.SetFallback(FallbackStrict); err != nil {
		t.Fatalf("SetFallback failed: %v", err)
	}
	bins, err = g.FindBins([]float64{25, 75})
	if err != nil {
		t.Fatalf("FindBins failed: %v", err)
	}
	if Key(bins) != "-1_-1" {
		t.Errorf("expected strict key -1_-1, got %s", Key(bins))
	}

	if err := g.SetFallback("bogus"); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for unknown policy, got %v", err)
	}
}

func TestAddEventAccumulates(t *testing.T) {
	g := mustYAML(t, sample2DYAML)
	acc := NewAccumulator(g)

	const n = 7
	const weight = 0.25
	for i := 0; i < n; i++ {
		added, err := acc.AddEvent([]float64{15, 30}, weight)
		if err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
		if !added {
			t.Fatal("expected event to be added")
		}
	}
	if got := acc.Count([]int{1, 0}); math.Abs(got-n*weight) > 1e-12 {
		t.Errorf("Count = %v, want %v", got, n*weight)
	}
	if acc.Len() != 1 {
		t.Errorf("expected 1 populated bin, got %d", acc.Len())
	}
}

func TestAddEventDropsOutOfRange(t *testing.T) {
	g := mustYAML(t, sample2DYAML)
	acc := NewAccumulator(g)

	for _, ev := range [][]float64{{20, 30}, {5, -1}, {-0.001, 50}} {
		added, err := acc.AddEvent(ev, 1)
		if err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
		if added {
			t.Errorf("expected %v to be dropped", ev)
		}
	}
	if acc.Len() != 0 {
		t.Errorf("expected no populated bins, got %d", acc.Len())
	}
}

func TestMerge(t *testing.T) {
	g := mustYAML(t, sample2DYAML)
	a := NewAccumulator(g)
	b := NewAccumulator(g)

	mustAdd := func(acc *Accumulator, v []float64, w float64) {
		t.Helper()
		if _, err := acc.AddEvent(v, w); err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
	}
	mustAdd(a, []float64{5, 30}, 1)
	mustAdd(a, []float64{15, 75}, 2)
	mustAdd(b, []float64{5, 30}, 3)
	mustAdd(b, []float64{5, 75}, 4)

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	want := map[string]float64{"0_0": 4, "1_1": 2, "0_1": 4}
	got := a.Counts()
	if len(got) != len(want) {
		t.Fatalf("expected %d bins, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("bin %s = %v, want %v", k, got[k], v)
		}
	}
	if a.Total() != 10 {
		t.Errorf("Total = %v, want 10", a.Total())
	}

	other := NewAccumulator(mustCSV(t, irregularCSV))
	if err := a.Merge(other); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig merging different binnings, got %v", err)
	}
}

func TestWriteCSVDenseGrid(t *testing.T) {
	data := `
energy_config: "10x100"
dimensions:
  - {name: Q2, branch_true: Q2, branch_reco: Q2, edges: [1, 10, 100, 1000]}
  - {name: X, branch_true: x, branch_reco: x, edges: [0.001, 0.01, 0.1, 1]}
  - {name: Y, branch_true: y, branch_reco: y, edges: [0, 0.5, 1]}
`
	g := mustYAML(t, data)
	acc := NewAccumulator(g)
	if _, err := acc.AddEvent([]float64{50, 0.05, 0.7}, 2.5); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	var buf bytes.Buffer
	if err := acc.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Q2_min,Q2_max,X_min,X_max,Y_min,Y_max,scaled_events\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	table, err := ReadTable(&buf)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if len(table.Rows) != 3*3*2 {
		t.Fatalf("expected 18 rows, got %d", len(table.Rows))
	}
	if table.Names[1] != "X" {
		t.Errorf("unexpected names: %v", table.Names)
	}

	nonZero := 0
	for _, r := range table.Rows {
		if r.Count != 0 {
			nonZero++
			if r.Min[0] != 10 || r.Min[1] != 0.01 || r.Min[2] != 0.5 || r.Count != 2.5 {
				t.Errorf("unexpected filled row: %+v", r)
			}
		}
	}
	if nonZero != 1 {
		t.Errorf("expected 1 non-zero row, got %d", nonZero)
	}

	// Last dimension varies fastest.
	if table.Rows[0].Min[2] != 0 || table.Rows[1].Min[2] != 0.5 || table.Rows[2].Min[1] != 0.01 {
		t.Errorf("unexpected row order: %+v %+v %+v", table.Rows[0], table.Rows[1], table.Rows[2])
	}
}

func TestWriteCSVExplicitOneRowPerRegion(t *testing.T) {
	g := mustCSV(t, irregularCSV)
	acc := NewAccumulator(g)
	if _, err := acc.AddEvent([]float64{15, 80}, 3); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	var buf bytes.Buffer
	if err := acc.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	table, err := ReadTable(&buf)
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}
	last := table.Rows[2]
	if last.Min[1] != 0 || last.Max[1] != 100 || last.Count != 3 {
		t.Errorf("unexpected tall region row: %+v", last)
	}
}

func TestReadTableMissingEdges(t *testing.T) {
	data := "a_min,a_max,scaled_events\nNA,NA,0\n1,2,3.5\n"
	table, err := ReadTable(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadTable failed: %v", err)
	}
	if !math.IsNaN(table.Rows[0].Min[0]) || !math.IsNaN(table.Rows[0].Max[0]) {
		t.Errorf("expected NaN for NA edges, got %+v", table.Rows[0])
	}
	if table.Rows[1].Count != 3.5 {
		t.Errorf("unexpected count %v", table.Rows[1].Count)
	}

	if _, err := ReadTable(strings.NewReader("a_min,a_max\n")); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for bad header, got %v", err)
	}
}

func TestLoadFilesNamesScheme(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "xQ2_10x100.yaml")
	csvPath := filepath.Join(dir, "irregular.csv")
	if err := os.WriteFile(yamlPath, []byte(sample2DYAML), 0600); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}
	if err := os.WriteFile(csvPath, []byte(irregularCSV), 0600); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	g, err := LoadYAML(yamlPath)
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if g.Name != "xQ2_10x100" {
		t.Errorf("expected scheme name xQ2_10x100, got %s", g.Name)
	}

	c, err := LoadCSV(csvPath, "10x100")
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if c.Name != "irregular" || c.EnergyConfig != "10x100" {
		t.Errorf("unexpected csv scheme: %s %s", c.Name, c.EnergyConfig)
	}

	acc := NewAccumulator(g)
	out := filepath.Join(dir, "out.csv")
	if err := acc.SaveCSV(out); err != nil {
		t.Fatalf("SaveCSV failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}
