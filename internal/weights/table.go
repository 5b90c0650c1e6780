package weights

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/manifest"
	"github.com/nvandessel/quicksim/internal/quickerr"
)

// Mode selects how interval weights are established.
type Mode string

const (
	// ModeLuminosity derives weights and rescales to an experimental
	// luminosity looked up for the beam energies.
	ModeLuminosity Mode = "lumi"

	// ModeDefault derives weights with an experimental luminosity of 1.
	ModeDefault Mode = "default"

	// ModePrecalculated uses weights loaded verbatim from a weight table.
	ModePrecalculated Mode = "precalculated"
)

// Valid returns true if the mode is a recognized value.
func (m Mode) Valid() bool {
	switch m {
	case ModeLuminosity, ModeDefault, ModePrecalculated:
		return true
	}
	return false
}

// Diagnostics receives structured records about weight derivation.
// *logging.DiagnosticLogger satisfies it.
type Diagnostics interface {
	Log(event map[string]any)
}

// Options configures New.
type Options struct {
	// Mode must be ModeLuminosity or ModeDefault.
	Mode Mode

	// Luminosity is required in ModeLuminosity.
	Luminosity LuminosityTable

	// ProtonMarker overrides constants.DefaultProtonMarker when inferring
	// collision types from filenames.
	ProtonMarker string

	Logger      *slog.Logger
	Diagnostics Diagnostics
}

// Table holds one weight per unique Q2 interval. It is safe for concurrent
// lookups; SetOverride and ClearOverrides are the only mutations.
type Table struct {
	mu sync.RWMutex

	mode      Mode
	intervals []Interval

	// base is the derived or precalculated weight; hasBase is false for an
	// interval whose derivation was skipped because an override existed and
	// the interval has no covering luminosity.
	base        []float64
	hasBase     []bool
	override    []float64
	hasOverride []bool

	eEnergy int
	hEnergy int

	resolution        Resolution
	totalCrossSection float64
	totalEvents       int64
	simulatedLumi     float64
	experimentalLumi  float64

	logger *slog.Logger
}

// New builds a table from manifest records in ModeLuminosity or ModeDefault.
func New(records []manifest.Record, opts Options) (*Table, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch opts.Mode {
	case ModeLuminosity:
		if opts.Luminosity == nil {
			return nil, fmt.Errorf("luminosity mode needs a luminosity table: %w", quickerr.ErrConfig)
		}
	case ModeDefault:
	case ModePrecalculated:
		return nil, fmt.Errorf("precalculated weights are built with NewPrecalculated: %w", quickerr.ErrConfig)
	default:
		return nil, fmt.Errorf("unknown weight mode %q: %w", opts.Mode, quickerr.ErrConfig)
	}

	g, err := groupRecords(records, opts.ProtonMarker)
	if err != nil {
		return nil, err
	}

	total, resolution, err := ResolveTotalCrossSection(g.intervals)
	if err != nil {
		return nil, err
	}

	t := &Table{
		mode:              opts.Mode,
		intervals:         g.intervals,
		base:              make([]float64, len(g.intervals)),
		hasBase:           make([]bool, len(g.intervals)),
		override:          make([]float64, len(g.intervals)),
		hasOverride:       make([]bool, len(g.intervals)),
		eEnergy:           g.eEnergy,
		hEnergy:           g.hEnergy,
		resolution:        resolution,
		totalCrossSection: total,
		experimentalLumi:  constants.DefaultExperimentalLuminosity,
		logger:            logger,
	}
	for i, w := range g.provided {
		if w >= 0 {
			t.override[i] = w
			t.hasOverride[i] = true
		}
	}
	for _, iv := range t.intervals {
		t.totalEvents += iv.Events
	}
	t.simulatedLumi = float64(t.totalEvents) / t.totalCrossSection

	if opts.Mode == ModeLuminosity {
		lumi, err := opts.Luminosity.Lookup(t.eEnergy, t.hEnergy)
		if err != nil {
			return nil, err
		}
		t.experimentalLumi = lumi
	}

	if err := t.derive(); err != nil {
		return nil, err
	}

	logger.Info("weight table built",
		"energy", fmt.Sprintf("%dx%d", t.eEnergy, t.hEnergy),
		"mode", string(t.mode),
		"intervals", len(t.intervals),
		"resolution", string(resolution),
		"total_cross_section_pb", t.totalCrossSection,
		"total_events", t.totalEvents,
		"simulated_lumi", t.simulatedLumi,
		"experimental_lumi", t.experimentalLumi)

	if opts.Diagnostics != nil {
		for i, iv := range t.intervals {
			opts.Diagnostics.Log(map[string]any{
				"type":          "interval_weight",
				"q2_min":        iv.Q2Min,
				"q2_max":        iv.Q2Max,
				"events":        iv.Events,
				"cross_section": iv.CrossSection,
				"weight":        t.effective(i),
				"override":      t.hasOverride[i],
				"resolution":    string(resolution),
			})
		}
	}
	return t, nil
}

// derive computes the base weight of every interval from the simulated
// statistics. An interval is weighted by the total simulated luminosity
// over the summed luminosity of every interval covering it.
func (t *Table) derive() error {
	for i, iv := range t.intervals {
		lumi := 0.0
		for _, cover := range t.intervals {
			if cover.Covers(iv) {
				lumi += float64(cover.Events) / cover.CrossSection
			}
		}
		if lumi == 0 {
			if t.hasOverride[i] {
				t.hasBase[i] = false
				continue
			}
			return fmt.Errorf("q2 bracket [%g,%g): %w", iv.Q2Min, iv.Q2Max, quickerr.ErrZeroLuminosity)
		}
		t.base[i] = t.simulatedLumi / lumi
		t.hasBase[i] = true

		t.logger.Debug("interval weight",
			"q2_min", iv.Q2Min,
			"q2_max", iv.Q2Max,
			"count", iv.Events,
			"xsec", iv.CrossSection,
			"weight", t.effective(i))
	}
	return nil
}

// PrecalculatedRow is one row of a precalculated weight table.
type PrecalculatedRow struct {
	Q2Min     float64
	Q2Max     float64
	Collision constants.CollisionType
	EEnergy   int
	HEnergy   int
	Weight    float64
}

// NewPrecalculated builds a table whose weights are used verbatim.
func NewPrecalculated(rows []PrecalculatedRow, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no precalculated weights: %w", quickerr.ErrLookupNotFound)
	}

	e, h := rows[0].EEnergy, rows[0].HEnergy
	index := make(map[[2]float64]int)
	var ivs []Interval
	var ws []float64
	for _, r := range rows {
		if r.EEnergy != e || r.HEnergy != h {
			return nil, fmt.Errorf("mixed beam energies %dx%d and %dx%d: %w", e, h, r.EEnergy, r.HEnergy, quickerr.ErrConfig)
		}
		key := [2]float64{r.Q2Min, r.Q2Max}
		if i, ok := index[key]; ok {
			ivs[i].Collision = r.Collision
			ws[i] = r.Weight
			continue
		}
		index[key] = len(ivs)
		ivs = append(ivs, Interval{Q2Min: r.Q2Min, Q2Max: r.Q2Max, Collision: r.Collision})
		ws = append(ws, r.Weight)
	}
	sortIntervals(ivs, ws)

	n := len(ivs)
	t := &Table{
		mode:             ModePrecalculated,
		intervals:        ivs,
		base:             ws,
		hasBase:          make([]bool, n),
		override:         make([]float64, n),
		hasOverride:      make([]bool, n),
		eEnergy:          e,
		hEnergy:          h,
		experimentalLumi: constants.DefaultExperimentalLuminosity,
		logger:           logger,
	}
	for i := range t.hasBase {
		t.hasBase[i] = true
	}

	logger.Info("precalculated weights loaded",
		"energy", fmt.Sprintf("%dx%d", e, h),
		"intervals", n)
	return t, nil
}

func (t *Table) effective(i int) float64 {
	if t.hasOverride[i] {
		return t.override[i]
	}
	return t.base[i]
}

// Weight returns the per-event weight for a Q2 value.
//
// Intervals are scanned in ascending Q2Min order and, when several
// overlapping intervals contain q2, the last match wins. A q2 outside every
// interval falls back to the first interval.
func (t *Table) Weight(q2 float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := -1
	for i, iv := range t.intervals {
		if iv.Contains(q2) {
			idx = i
		}
	}
	if idx < 0 {
		idx = 0
	}

	w := t.effective(idx)
	if t.mode == ModePrecalculated {
		return w
	}
	return w * (t.experimentalLumi / t.simulatedLumi)
}

// SetOverride replaces the weight of the interval exactly matching
// [q2Min, q2Max).
func (t *Table) SetOverride(q2Min, q2Max, weight float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, iv := range t.intervals {
		if iv.Q2Min == q2Min && iv.Q2Max == q2Max {
			t.override[i] = weight
			t.hasOverride[i] = true
			t.logger.Info("weight override set", "q2_min", q2Min, "q2_max", q2Max, "weight", weight)
			return nil
		}
	}
	return fmt.Errorf("q2 range (%g, %g) not found: %w", q2Min, q2Max, quickerr.ErrConfig)
}

// ClearOverrides drops every override. It fails if an interval has no
// derivable weight to fall back to.
func (t *Table) ClearOverrides() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, iv := range t.intervals {
		if t.hasOverride[i] && !t.hasBase[i] {
			return fmt.Errorf("q2 bracket [%g,%g) has no weight without its override: %w",
				iv.Q2Min, iv.Q2Max, quickerr.ErrZeroLuminosity)
		}
	}
	for i := range t.hasOverride {
		t.hasOverride[i] = false
		t.override[i] = 0
	}
	t.logger.Info("all weight overrides cleared")
	return nil
}

// Mode returns how the table was built.
func (t *Table) Mode() Mode { return t.mode }

// Energies returns the beam energy pair shared by every interval.
func (t *Table) Energies() (eEnergy, hEnergy int) { return t.eEnergy, t.hEnergy }

// Resolution returns how the total cross section was decided. It is empty
// for precalculated tables.
func (t *Table) Resolution() Resolution { return t.resolution }

// TotalCrossSection returns the resolved total cross section in pb.
func (t *Table) TotalCrossSection() float64 { return t.totalCrossSection }

// TotalEvents returns the summed event count.
func (t *Table) TotalEvents() int64 { return t.totalEvents }

// SimulatedLuminosity returns total events over total cross section.
func (t *Table) SimulatedLuminosity() float64 { return t.simulatedLumi }

// ExperimentalLuminosity returns the target luminosity.
func (t *Table) ExperimentalLuminosity() float64 { return t.experimentalLumi }

// IntervalWeight pairs an interval with its final per-event weight.
type IntervalWeight struct {
	Interval
	Weight float64 `json:"weight"`
}

// Intervals returns every interval with the weight Weight would return
// for a Q2 inside it, in ascending Q2Min order.
func (t *Table) Intervals() []IntervalWeight {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]IntervalWeight, len(t.intervals))
	for i, iv := range t.intervals {
		w := t.effective(i)
		if t.mode != ModePrecalculated {
			w *= t.experimentalLumi / t.simulatedLumi
		}
		out[i] = IntervalWeight{Interval: iv, Weight: w}
	}
	return out
}
