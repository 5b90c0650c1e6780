package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvandessel/quicksim/internal/logging"
	"github.com/nvandessel/quicksim/internal/pipeline"
	"github.com/nvandessel/quicksim/internal/weights"
	"github.com/spf13/cobra"
)

func newWeightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Build the Q2 weight table for a beam configuration",
		Long: `Build the per-interval weight table from a simulated-file manifest.

Writes <out>_weights.csv (one row per selected manifest record, with its
weight) and <out>_precalc.csv (one row per Q2 interval, reusable with
weights.mode=precalculated).

Examples:
  quicksim weights --manifest ep_files.csv --out output/10x100
  quicksim weights --manifest ep_files.csv --out output/10x100 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			manifestPath, _ := cmd.Flags().GetString("manifest")
			outPrefix, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			diag := logging.NewDiagnosticLogger(cfg.Output.Dir, cfg.Logging.Level, "")
			defer diag.Close()

			ws, err := pipeline.LoadWeights(cmd.Context(), cfg, manifestPath, logger, diag)
			if err != nil {
				return err
			}

			if outPrefix == "" {
				outPrefix = filepath.Join(cfg.Output.Dir, cfg.Analysis.EnergyConfig)
			}
			if err := os.MkdirAll(filepath.Dir(outPrefix), 0755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			var written []string
			if len(ws.Records) > 0 {
				path := outPrefix + "_weights.csv"
				if err := writeWith(path, func(w io.Writer) error { return ws.Table.ExportRecords(w, ws.Records) }); err != nil {
					return err
				}
				written = append(written, path)
			}
			path := outPrefix + "_precalc.csv"
			if err := writeWith(path, ws.Table.ExportPrecalculated); err != nil {
				return err
			}
			written = append(written, path)

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"mode":                 ws.Table.Mode(),
					"resolution":           ws.Table.Resolution(),
					"total_cross_section":  ws.Table.TotalCrossSection(),
					"simulated_luminosity": ws.Table.SimulatedLuminosity(),
					"intervals":            ws.Table.Intervals(),
					"files":                written,
				})
			}
			printWeights(out, ws.Table)
			for _, p := range written {
				fmt.Fprintf(out, "Wrote %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().String("manifest", "", "Simulated-file manifest CSV")
	cmd.Flags().String("out", "", "Output path prefix (default <output.dir>/<energy_config>)")

	return cmd
}

func printWeights(w io.Writer, t *weights.Table) {
	e, h := t.Energies()
	fmt.Fprintf(w, "Weights for %dx%d (%s)\n", e, h, t.Mode())
	if t.Mode() != weights.ModePrecalculated {
		fmt.Fprintf(w, "  total cross section:   %g pb (%s)\n", t.TotalCrossSection(), t.Resolution())
		fmt.Fprintf(w, "  simulated luminosity:  %g\n", t.SimulatedLuminosity())
	}
	fmt.Fprintf(w, "  %-12s %-12s %-6s %-10s %s\n", "Q2_min", "Q2_max", "type", "events", "weight")
	for _, iw := range t.Intervals() {
		fmt.Fprintf(w, "  %-12g %-12g %-6s %-10d %g\n",
			iw.Q2Min, iw.Q2Max, iw.Collision, iw.Events, iw.Weight)
	}
}

// writeWith creates path and hands it to write.
func writeWith(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
