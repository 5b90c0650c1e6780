package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/quicksim/internal/arrowio"
	"github.com/nvandessel/quicksim/internal/config"
	"github.com/nvandessel/quicksim/internal/metrics"
	"github.com/nvandessel/quicksim/internal/store"
	"github.com/nvandessel/quicksim/internal/tracing"
	"github.com/nvandessel/quicksim/internal/weights"
)

// Outputs lists what Persist wrote. Empty fields were not enabled.
type Outputs struct {
	CSV     string `json:"csv"`
	Arrow   string `json:"arrow,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	SQLite  string `json:"sqlite,omitempty"`
	Metrics string `json:"metrics,omitempty"`
}

// OutputName returns the base file name for a run's binned table.
func OutputName(scheme, energyConfig string) string {
	return scheme + "_" + energyConfig
}

// Persist writes a run's binned table to cfg.Output.Dir as CSV and, when
// enabled, as Arrow, into the run store and as a metrics textfile. The run
// is stored under runID; an empty runID gets a fresh one.
func Persist(ctx context.Context, cfg *config.QuicksimConfig, runID string, res *Result, table *weights.Table, rec *metrics.Recorder) (*Outputs, error) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.Persist")
	defer span.End()

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	acc := res.Accumulator
	g := acc.Geometry()
	base := filepath.Join(cfg.Output.Dir, OutputName(g.Name, cfg.Analysis.EnergyConfig))

	out := &Outputs{CSV: base + ".csv"}
	if err := acc.SaveCSV(out.CSV); err != nil {
		return nil, err
	}

	if cfg.Output.Arrow {
		out.Arrow = base + arrowio.Extension
		if err := arrowio.SaveAccumulator(out.Arrow, acc); err != nil {
			return nil, err
		}
	}

	if cfg.Output.SQLite {
		out.SQLite = filepath.Join(cfg.Output.Dir, store.DefaultFile)
		s, err := store.Open(out.SQLite)
		if err != nil {
			return nil, err
		}
		defer s.Close()

		info := store.RunInfo{
			ID:                  runID,
			Scheme:              g.Name,
			EnergyConfig:        cfg.Analysis.EnergyConfig,
			Analysis:            cfg.Analysis.Type,
			WeightMode:          string(table.Mode()),
			Resolution:          string(table.Resolution()),
			TotalCrossSection:   table.TotalCrossSection(),
			SimulatedLuminosity: table.SimulatedLuminosity(),
			EventsRead:          res.EventsRead,
			EntriesAdded:        res.EntriesAdded,
			EntriesDropped:      res.EntriesDropped,
			Dimensions:          g.Dimensions(),
		}
		if out.RunID, err = s.SaveRun(ctx, info, acc.Rows(), table.Intervals()); err != nil {
			return nil, err
		}
	}

	if cfg.Output.MetricsTextfile != "" {
		out.Metrics = cfg.Output.MetricsTextfile
		if err := rec.WriteTextfile(out.Metrics); err != nil {
			return nil, err
		}
	}
	return out, nil
}
