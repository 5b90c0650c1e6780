package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/config"
	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/manifest"
	"github.com/nvandessel/quicksim/internal/quickerr"
	"github.com/nvandessel/quicksim/internal/tracing"
	"github.com/nvandessel/quicksim/internal/weights"
)

// WeightSet is a weight table together with the manifest records it was
// derived from. Records is empty for precalculated tables.
type WeightSet struct {
	Table   *weights.Table
	Records []manifest.Record
}

// LoadWeights builds the weight table selected by cfg.Weights.Mode.
// manifestPath is ignored in precalculated mode.
func LoadWeights(ctx context.Context, cfg *config.QuicksimConfig, manifestPath string, logger *slog.Logger, diag weights.Diagnostics) (*WeightSet, error) {
	_, span := tracing.Tracer().Start(ctx, "pipeline.LoadWeights")
	defer span.End()

	e, h, err := manifest.ParseEnergyConfig(cfg.Analysis.EnergyConfig)
	if err != nil {
		return nil, err
	}
	collision := constants.CollisionType(cfg.Analysis.CollisionType)
	mode := weights.Mode(cfg.Weights.Mode)

	if mode == weights.ModePrecalculated {
		// Rows are selected by beam energies only; tags inferred from
		// filenames may mix collision types within one run.
		rows, err := weights.LoadPrecalculated(cfg.Weights.PrecalculatedCSV, e, h, "")
		if err != nil {
			return nil, err
		}
		t, err := weights.NewPrecalculated(rows, logger)
		if err != nil {
			return nil, err
		}
		return &WeightSet{Table: t}, nil
	}

	if manifestPath == "" {
		return nil, fmt.Errorf("weight mode %q needs a manifest: %w", mode, quickerr.ErrConfig)
	}
	m, err := manifest.Load(manifestPath, logger)
	if err != nil {
		return nil, err
	}
	records, err := m.CombinedRows(cfg.Analysis.EnergyConfig, collision, cfg.Analysis.FilesPerBracket, cfg.Analysis.MaxEvents)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("manifest has no %s rows for %s: %w", collision, cfg.Analysis.EnergyConfig, quickerr.ErrLookupNotFound)
	}

	opts := weights.Options{
		Mode:         mode,
		ProtonMarker: cfg.Weights.ProtonMarker,
		Logger:       logger,
		Diagnostics:  diag,
	}
	if mode == weights.ModeLuminosity {
		lumi, err := weights.LoadLuminosityCSV(cfg.Weights.LuminosityCSV)
		if err != nil {
			return nil, err
		}
		opts.Luminosity = lumi
	}
	t, err := weights.New(records, opts)
	if err != nil {
		return nil, err
	}
	return &WeightSet{Table: t, Records: records}, nil
}

// LoadGeometry reads a binning scheme, YAML for rectangular grids and CSV
// for explicit regions, and applies the configured fallback policy.
func LoadGeometry(path string, cfg *config.QuicksimConfig) (*binning.Geometry, error) {
	var (
		g   *binning.Geometry
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		g, err = binning.LoadYAML(path)
	case ".csv":
		g, err = binning.LoadCSV(path, cfg.Analysis.EnergyConfig)
	default:
		return nil, fmt.Errorf("binning scheme %s: expected .yaml, .yml or .csv: %w", path, quickerr.ErrConfig)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Binning.ExplicitFallback != "" {
		if err := g.SetFallback(binning.FallbackPolicy(cfg.Binning.ExplicitFallback)); err != nil {
			return nil, err
		}
	}
	return g, nil
}
