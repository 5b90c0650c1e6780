package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/migration"
	"github.com/nvandessel/quicksim/internal/pipeline"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Fold a binned true-space yield through a migration matrix",
		Long: `Predict the reconstructed yield of a binned table.

The table's bins must match the matrix's bin edges. Each true bin's yield
is spread over reco bins by its response row (in percent).

Examples:
  quicksim migrate --matrix migration_10x100.yaml --table output/xQ2_10x100.csv
  quicksim migrate --matrix migration_10x100.yaml --table output/xQ2_10x100.csv --out predicted.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			matrixPath, _ := cmd.Flags().GetString("matrix")
			tablePath, _ := cmd.Flags().GetString("table")
			outPath, _ := cmd.Flags().GetString("out")

			m, err := migration.Load(matrixPath)
			if err != nil {
				return err
			}
			f, err := os.Open(tablePath)
			if err != nil {
				return fmt.Errorf("opening binned table: %w", err)
			}
			table, err := binning.ReadTable(f)
			f.Close()
			if err != nil {
				return err
			}

			trueHist, err := pipeline.HistogramFromTable(m, table)
			if err != nil {
				return err
			}
			reco, err := pipeline.Predict(m, trueHist)
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := writeWith(outPath, func(w io.Writer) error { return writePrediction(w, m, trueHist, reco) }); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"energy_config": m.EnergyConfig(),
					"true":          trueHist,
					"reco":          reco,
				})
			}
			return writePrediction(out, m, trueHist, reco)
		},
	}

	cmd.Flags().String("matrix", "", "Migration matrix YAML")
	cmd.Flags().String("table", "", "Binned table CSV")
	cmd.Flags().String("out", "", "Also write the prediction to this CSV")
	cmd.MarkFlagRequired("matrix")
	cmd.MarkFlagRequired("table")

	return cmd
}

// writePrediction writes one row per flat bin: the bin description, the
// true yield and the predicted reco yield.
func writePrediction(w io.Writer, m *migration.Matrix, trueHist, reco []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bin", "true_events", "reco_events"}); err != nil {
		return err
	}
	for flat := range reco {
		idx, err := m.Unflatten(flat)
		if err != nil {
			return err
		}
		desc, err := m.Describe(idx)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			desc,
			strconv.FormatFloat(trueHist[flat], 'g', -1, 64),
			strconv.FormatFloat(reco[flat], 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
