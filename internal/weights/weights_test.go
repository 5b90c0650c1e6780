package weights

import (
	"bytes"
	"encoding/csv"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/manifest"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func rec(name string, q2Min, q2Max, nEvents int, xs float64) manifest.Record {
	return manifest.Record{
		Filename:       name,
		Q2Min:          q2Min,
		Q2Max:          q2Max,
		EEnergy:        10,
		HEnergy:        100,
		NEvents:        nEvents,
		CrossSectionPb: xs,
		Weight:         constants.AbsentWeight,
	}
}

func TestResolveTotalCrossSection(t *testing.T) {
	tests := []struct {
		name    string
		ivs     []Interval
		want    float64
		wantRes Resolution
		wantErr error
	}{
		{
			name: "nested",
			ivs: []Interval{
				{Q2Min: 1, Q2Max: 100, CrossSection: 5},
				{Q2Min: 10, Q2Max: 100, CrossSection: 3},
			},
			want:    5,
			wantRes: ResolutionNested,
		},
		{
			name: "chain",
			ivs: []Interval{
				{Q2Min: 1, Q2Max: 10, CrossSection: 2},
				{Q2Min: 10, Q2Max: 100, CrossSection: 3},
			},
			want:    5,
			wantRes: ResolutionChain,
		},
		{
			name: "single interval",
			ivs: []Interval{
				{Q2Min: 1, Q2Max: 100, CrossSection: 7},
			},
			want:    7,
			wantRes: ResolutionNested,
		},
		{
			name: "gap",
			ivs: []Interval{
				{Q2Min: 1, Q2Max: 10, CrossSection: 2},
				{Q2Min: 20, Q2Max: 100, CrossSection: 3},
			},
			wantErr: quickerr.ErrRangeResolution,
		},
		{
			name: "overlap without nesting",
			ivs: []Interval{
				{Q2Min: 1, Q2Max: 50, CrossSection: 2},
				{Q2Min: 10, Q2Max: 100, CrossSection: 3},
			},
			wantErr: quickerr.ErrRangeResolution,
		},
		{
			name:    "empty",
			wantErr: quickerr.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, res, err := ResolveTotalCrossSection(tt.ivs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("total = %v, want %v", got, tt.want)
			}
			if res != tt.wantRes {
				t.Errorf("resolution = %v, want %v", res, tt.wantRes)
			}
		})
	}
}

func TestNewGroupsRecordsByInterval(t *testing.T) {
	records := []manifest.Record{
		rec("b_ep_1.root", 10, 100, 300, 3),
		rec("a_ep_1.root", 1, 100, 600, 5),
		rec("b_ep_2.root", 10, 100, 300, 3),
		rec("a_ep_2.root", 1, 100, 400, 5),
	}

	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ivs := table.Intervals()
	if len(ivs) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(ivs))
	}
	if ivs[0].Q2Min != 1 || ivs[1].Q2Min != 10 {
		t.Errorf("expected ascending Q2Min order, got %v, %v", ivs[0].Q2Min, ivs[1].Q2Min)
	}
	if ivs[0].Events != 1000 || ivs[1].Events != 600 {
		t.Errorf("expected summed events 1000/600, got %d/%d", ivs[0].Events, ivs[1].Events)
	}
	if table.TotalEvents() != 1600 {
		t.Errorf("expected 1600 total events, got %d", table.TotalEvents())
	}
	if table.TotalCrossSection() != 5 {
		t.Errorf("expected total cross section 5, got %v", table.TotalCrossSection())
	}
	if table.Resolution() != ResolutionNested {
		t.Errorf("expected nested resolution, got %v", table.Resolution())
	}
	if ivs[0].Collision != constants.CollisionEP {
		t.Errorf("expected ep collision from filename marker, got %v", ivs[0].Collision)
	}
}

func TestNewRejectsMixedEnergies(t *testing.T) {
	other := rec("x.root", 10, 100, 10, 1)
	other.HEnergy = 275
	_, err := New([]manifest.Record{rec("a.root", 1, 100, 10, 1), other}, Options{Mode: ModeDefault})
	if !errors.Is(err, quickerr.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewRejectsEmptyAndBadMode(t *testing.T) {
	if _, err := New(nil, Options{Mode: ModeDefault}); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for empty records, got %v", err)
	}
	if _, err := New([]manifest.Record{rec("a.root", 1, 100, 10, 1)}, Options{Mode: "bogus"}); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for unknown mode, got %v", err)
	}
	if _, err := New([]manifest.Record{rec("a.root", 1, 100, 10, 1)}, Options{Mode: ModeLuminosity}); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for missing luminosity table, got %v", err)
	}
}

func TestWeightNormalization(t *testing.T) {
	lumi := StaticLuminosity{{10, 100}: 50}
	table, err := New([]manifest.Record{rec("a.root", 1, 100, 1000, 10)}, Options{Mode: ModeLuminosity, Luminosity: lumi})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// 50 pb^-1 / (1000 events / 10 pb)
	if got := table.Weight(50); !approxEqual(got, 0.5) {
		t.Errorf("Weight(50) = %v, want 0.5", got)
	}
	if table.SimulatedLuminosity() != 100 {
		t.Errorf("expected simulated luminosity 100, got %v", table.SimulatedLuminosity())
	}
	if table.ExperimentalLuminosity() != 50 {
		t.Errorf("expected experimental luminosity 50, got %v", table.ExperimentalLuminosity())
	}
}

func TestLuminosityLookupMissing(t *testing.T) {
	lumi := StaticLuminosity{{18, 275}: 10}
	_, err := New([]manifest.Record{rec("a.root", 1, 100, 1000, 10)}, Options{Mode: ModeLuminosity, Luminosity: lumi})
	if !errors.Is(err, quickerr.ErrLookupNotFound) {
		t.Fatalf("expected ErrLookupNotFound, got %v", err)
	}
}

func TestWeightNestedSamples(t *testing.T) {
	records := []manifest.Record{
		rec("wide.root", 1, 100, 1000, 5),
		rec("narrow.root", 10, 100, 600, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Below 10 only the wide sample contributes: 1000 events / 5 pb.
	if got := table.Weight(5); !approxEqual(got, 1.0/200) {
		t.Errorf("Weight(5) = %v, want %v", got, 1.0/200)
	}
	// Above 10 both samples contribute: 200 + 200 events per pb.
	if got := table.Weight(50); !approxEqual(got, 1.0/400) {
		t.Errorf("Weight(50) = %v, want %v", got, 1.0/400)
	}
}

func TestWeightChainedSamples(t *testing.T) {
	records := []manifest.Record{
		rec("low.root", 1, 10, 100, 2),
		rec("high.root", 10, 100, 300, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if table.Resolution() != ResolutionChain {
		t.Errorf("expected chain resolution, got %v", table.Resolution())
	}

	if got := table.Weight(5); !approxEqual(got, 1.0/50) {
		t.Errorf("Weight(5) = %v, want %v", got, 1.0/50)
	}
	if got := table.Weight(10); !approxEqual(got, 1.0/100) {
		t.Errorf("Weight(10) = %v, want %v", got, 1.0/100)
	}
}

// Overlapping intervals resolve to the last match in ascending Q2Min order.
// This mirrors long-standing behaviour and is kept on purpose.
func TestWeightLastMatchWinsQuirk(t *testing.T) {
	records := []manifest.Record{
		rec("wide.root", 1, 100, 1000, 5),
		rec("narrow.root", 10, 100, 600, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ivs := table.Intervals()
	if got := table.Weight(50); got != ivs[1].Weight {
		t.Errorf("Weight(50) = %v, want last match %v", got, ivs[1].Weight)
	}
	if got := table.Weight(50); got == ivs[0].Weight {
		t.Errorf("Weight(50) unexpectedly matched the first interval")
	}
}

func TestWeightFallsBackToFirstInterval(t *testing.T) {
	records := []manifest.Record{
		rec("low.root", 1, 10, 100, 2),
		rec("high.root", 10, 100, 300, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first := table.Weight(5)
	for _, q2 := range []float64{0.5, 100, 1e6} {
		if got := table.Weight(q2); got != first {
			t.Errorf("Weight(%v) = %v, want fallback %v", q2, got, first)
		}
	}
}

func TestZeroLuminosity(t *testing.T) {
	_, err := New([]manifest.Record{rec("empty.root", 1, 100, 0, 10)}, Options{Mode: ModeDefault})
	if !errors.Is(err, quickerr.ErrZeroLuminosity) {
		t.Fatalf("expected ErrZeroLuminosity, got %v", err)
	}
}

func TestProvidedWeightOverridesDerivation(t *testing.T) {
	low := rec("low.root", 1, 10, 0, 2)
	low.Weight = 0.5
	records := []manifest.Record{low, rec("high.root", 10, 100, 300, 3)}

	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := 0.5 * (1 / table.SimulatedLuminosity())
	if got := table.Weight(5); !approxEqual(got, want) {
		t.Errorf("Weight(5) = %v, want %v", got, want)
	}

	// The low bracket has no events, so nothing remains once the override goes.
	if err := table.ClearOverrides(); !errors.Is(err, quickerr.ErrZeroLuminosity) {
		t.Errorf("expected ErrZeroLuminosity from ClearOverrides, got %v", err)
	}
}

func TestSetAndClearOverride(t *testing.T) {
	records := []manifest.Record{
		rec("low.root", 1, 10, 100, 2),
		rec("high.root", 10, 100, 300, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	derived := table.Weight(50)

	if err := table.SetOverride(10, 100, 8); err != nil {
		t.Fatalf("SetOverride failed: %v", err)
	}
	if got := table.Weight(50); !approxEqual(got, 8/table.SimulatedLuminosity()) {
		t.Errorf("Weight(50) = %v after override", got)
	}

	if err := table.SetOverride(10, 1000, 8); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for unknown range, got %v", err)
	}

	if err := table.ClearOverrides(); err != nil {
		t.Fatalf("ClearOverrides failed: %v", err)
	}
	if got := table.Weight(50); got != derived {
		t.Errorf("Weight(50) = %v after clear, want %v", got, derived)
	}
}

func TestPrecalculatedWeightsAreVerbatim(t *testing.T) {
	rows := []PrecalculatedRow{
		{Q2Min: 10, Q2Max: 100, Collision: constants.CollisionEN, EEnergy: 5, HEnergy: 41, Weight: 0.25},
		{Q2Min: 1, Q2Max: 10, Collision: constants.CollisionEN, EEnergy: 5, HEnergy: 41, Weight: 2.5},
	}
	table, err := NewPrecalculated(rows, nil)
	if err != nil {
		t.Fatalf("NewPrecalculated failed: %v", err)
	}
	if table.Mode() != ModePrecalculated {
		t.Errorf("expected precalculated mode, got %v", table.Mode())
	}
	if got := table.Weight(5); got != 2.5 {
		t.Errorf("Weight(5) = %v, want 2.5", got)
	}
	if got := table.Weight(50); got != 0.25 {
		t.Errorf("Weight(50) = %v, want 0.25", got)
	}

	if _, err := NewPrecalculated(nil, nil); !errors.Is(err, quickerr.ErrLookupNotFound) {
		t.Errorf("expected ErrLookupNotFound for no rows, got %v", err)
	}
}

func TestExportRecords(t *testing.T) {
	records := []manifest.Record{
		rec("low.root", 1, 10, 100, 2),
		rec("high.root", 10, 100, 300, 3),
	}
	table, err := New(records, Options{Mode: ModeDefault})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var buf bytes.Buffer
	if err := table.ExportRecords(&buf, records); err != nil {
		t.Fatalf("ExportRecords failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][7] != "weight" {
		t.Errorf("expected trailing weight column, got %v", rows[0])
	}
	// The high record sits on the shared boundary and must get its own weight.
	if rows[2][7] != formatFloat(table.Weight(10.5)) {
		t.Errorf("high row weight = %s, want %s", rows[2][7], formatFloat(table.Weight(10.5)))
	}
}

func TestPrecalculatedRoundTrip(t *testing.T) {
	records := []manifest.Record{
		rec("run_ep_low.root", 1, 10, 100, 2),
		rec("run_en_high.root", 10, 100, 300, 3),
	}
	table, err := New(records, Options{Mode: ModeLuminosity, Luminosity: StaticLuminosity{{10, 100}: 10}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var buf bytes.Buffer
	if err := table.ExportPrecalculated(&buf); err != nil {
		t.Fatalf("ExportPrecalculated failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Q2_min,Q2_max,collision_type,") {
		t.Errorf("unexpected header: %q", buf.String())
	}

	rows, err := ParsePrecalculated(&buf, 10, 100, "")
	if err != nil {
		t.Fatalf("ParsePrecalculated failed: %v", err)
	}
	if rows[0].Collision != constants.CollisionEP || rows[1].Collision != constants.CollisionEN {
		t.Errorf("unexpected collision types: %v, %v", rows[0].Collision, rows[1].Collision)
	}

	reloaded, err := NewPrecalculated(rows, nil)
	if err != nil {
		t.Fatalf("NewPrecalculated failed: %v", err)
	}
	for _, q2 := range []float64{2, 9.99, 10, 50} {
		if got, want := reloaded.Weight(q2), table.Weight(q2); !approxEqual(got, want) {
			t.Errorf("Weight(%v) = %v after reload, want %v", q2, got, want)
		}
	}
}

func TestParsePrecalculatedFilters(t *testing.T) {
	data := `Q2_min,Q2_max,collision_type,electron_energy,hadron_energy,weight
1,10,en,5,41,0.5
1,10,ep,5,41,0.7
1,10,en,10,100,0.9
`
	rows, err := ParsePrecalculated(strings.NewReader(data), 5, 41, constants.CollisionEN)
	if err != nil {
		t.Fatalf("ParsePrecalculated failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Weight != 0.5 {
		t.Errorf("unexpected rows: %+v", rows)
	}

	if _, err := ParsePrecalculated(strings.NewReader(data), 18, 275, ""); !errors.Is(err, quickerr.ErrLookupNotFound) {
		t.Errorf("expected ErrLookupNotFound, got %v", err)
	}

	bad := "header\n1,10,en,5,forty,0.5\n"
	if _, err := ParsePrecalculated(strings.NewReader(bad), 5, 41, ""); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for malformed row, got %v", err)
	}
}

func TestParseLuminosityCSV(t *testing.T) {
	data := `electron_energy,hadron_energy,expected_lumi
5,41,4.4
10,100,79
`
	table, err := ParseLuminosityCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseLuminosityCSV failed: %v", err)
	}
	if got, err := table.Lookup(10, 100); err != nil || got != 79 {
		t.Errorf("Lookup(10,100) = %v, %v", got, err)
	}
	if _, err := table.Lookup(18, 275); !errors.Is(err, quickerr.ErrLookupNotFound) {
		t.Errorf("expected ErrLookupNotFound, got %v", err)
	}

	if _, err := ParseLuminosityCSV(strings.NewReader("")); !errors.Is(err, quickerr.ErrConfig) {
		t.Errorf("expected ErrConfig for empty file, got %v", err)
	}
}

type recordingDiagnostics struct {
	events []map[string]any
}

func (r *recordingDiagnostics) Log(event map[string]any) {
	r.events = append(r.events, event)
}

func TestDiagnosticsPerInterval(t *testing.T) {
	diag := &recordingDiagnostics{}
	records := []manifest.Record{
		rec("low.root", 1, 10, 100, 2),
		rec("high.root", 10, 100, 300, 3),
	}
	if _, err := New(records, Options{Mode: ModeDefault, Diagnostics: diag}); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(diag.events) != 2 {
		t.Fatalf("expected 2 diagnostic events, got %d", len(diag.events))
	}
	if diag.events[0]["type"] != "interval_weight" {
		t.Errorf("unexpected event type: %v", diag.events[0]["type"])
	}
}
