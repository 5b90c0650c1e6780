package main

import (
	"encoding/json"

	"github.com/nvandessel/quicksim/internal/migration"
	"github.com/spf13/cobra"
)

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <matrix.yaml>",
		Short: "Print a migration matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			m, err := migration.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"energy_config": m.EnergyConfig(),
					"dimensions":    m.DimensionNames(),
					"total_bins":    m.TotalBins(),
					"entries":       m.Entries(),
				})
			}
			return m.Summary(out)
		},
	}
}
