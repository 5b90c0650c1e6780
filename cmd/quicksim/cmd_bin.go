package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nvandessel/quicksim/internal/events"
	"github.com/nvandessel/quicksim/internal/kinematics"
	"github.com/nvandessel/quicksim/internal/logging"
	"github.com/nvandessel/quicksim/internal/metrics"
	"github.com/nvandessel/quicksim/internal/pipeline"
	"github.com/nvandessel/quicksim/internal/tracing"
	"github.com/spf13/cobra"
)

func newBinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bin",
		Short: "Weight and bin an events file",
		Long: `Stream an events CSV through the weight table and a binning scheme.

The events CSV has an "event" id column followed by kinematic columns
named after the analysis branches (q2, x, w, y, nu, z, pt_lab, ...).
Consecutive rows with the same id are entries of one event and share its
weight. Schemes ending in .yaml are rectangular grids; .csv schemes list
explicit regions.

Examples:
  quicksim bin --scheme bins/xQ2.yaml --events dis_10x100.csv --manifest ep_files.csv
  quicksim bin --scheme bins/regions.csv --events sidis.csv --manifest ep_files.csv --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			schemePath, _ := cmd.Flags().GetString("scheme")
			eventsPath, _ := cmd.Flags().GetString("events")
			manifestPath, _ := cmd.Flags().GetString("manifest")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Analysis.Workers, _ = cmd.Flags().GetInt("workers")
			}
			if cfg.Analysis.Workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}

			ctx := cmd.Context()
			shutdown, err := tracing.Setup(ctx, cfg.Tracing)
			if err != nil {
				return fmt.Errorf("setting up tracing: %w", err)
			}
			defer shutdown(ctx)

			runID := uuid.NewString()
			logger := newLogger(cmd, cfg).With("run_id", runID)
			diag := logging.NewDiagnosticLogger(cfg.Output.Dir, cfg.Logging.Level, runID)
			defer diag.Close()

			kind, err := kinematics.ParseKind(cfg.Analysis.Type)
			if err != nil {
				return err
			}
			ws, err := pipeline.LoadWeights(ctx, cfg, manifestPath, logger, diag)
			if err != nil {
				return err
			}
			geom, err := pipeline.LoadGeometry(schemePath, cfg)
			if err != nil {
				return err
			}
			src, err := events.OpenCSV(eventsPath, kind, cfg.Analysis.MaxEvents)
			if err != nil {
				return err
			}
			defer src.Close()

			rec := metrics.New()
			res, err := pipeline.Run(ctx, pipeline.Options{
				Weights:       ws.Table,
				Geometry:      geom,
				Source:        src,
				Kind:          kind,
				Workers:       cfg.Analysis.Workers,
				SkipBadEvents: cfg.Analysis.SkipBadEvents,
				Logger:        logger,
				Diagnostics:   diag,
				Metrics:       rec,
			})
			if err != nil {
				return err
			}

			outputs, err := pipeline.Persist(ctx, cfg, runID, res, ws.Table, rec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run_id":          runID,
					"scheme":          geom.Name,
					"events_read":     res.EventsRead,
					"events_skipped":  res.EventsSkipped,
					"entries_added":   res.EntriesAdded,
					"entries_dropped": res.EntriesDropped,
					"weighted_total":  res.Accumulator.Total(),
					"outputs":         outputs,
				})
			}
			fmt.Fprintf(out, "Binned %d events on %s (%d entries added, %d dropped, %d events skipped)\n",
				res.EventsRead, geom.Name, res.EntriesAdded, res.EntriesDropped, res.EventsSkipped)
			fmt.Fprintf(out, "Weighted total: %g\n", res.Accumulator.Total())
			fmt.Fprintf(out, "Wrote %s\n", outputs.CSV)
			if outputs.Arrow != "" {
				fmt.Fprintf(out, "Wrote %s\n", outputs.Arrow)
			}
			if outputs.RunID != "" {
				fmt.Fprintf(out, "Stored run %s in %s\n", outputs.RunID, outputs.SQLite)
			}
			if outputs.Metrics != "" {
				fmt.Fprintf(out, "Wrote %s\n", outputs.Metrics)
			}
			return nil
		},
	}

	cmd.Flags().String("scheme", "", "Binning scheme (.yaml grid or .csv regions)")
	cmd.Flags().String("events", "", "Events CSV")
	cmd.Flags().String("manifest", "", "Simulated-file manifest CSV (not needed with precalculated weights)")
	cmd.Flags().Int("workers", 1, "Parallel accumulators (overrides analysis.workers)")
	cmd.MarkFlagRequired("scheme")
	cmd.MarkFlagRequired("events")

	return cmd
}
