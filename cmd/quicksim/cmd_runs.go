package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/quicksim/internal/store"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect binning runs stored in SQLite",
		Long: `List, show and delete runs recorded with output.sqlite=true.

The database is <output.dir>/quicksim.db unless --db is given.

Examples:
  quicksim runs list
  quicksim runs show 6f1c...
  quicksim runs delete 6f1c...`,
	}
	cmd.PersistentFlags().String("db", "", "Run database (default <output.dir>/quicksim.db)")

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

// openRunStore opens an existing run database. It does not create one.
func openRunStore(cmd *cobra.Command) (*store.SQLiteRunStore, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(cfg.Output.Dir, store.DefaultFile)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run database at %s", path)
	}
	return store.Open(path)
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			s, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs stored.")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %s  %-12s %-8s %-8s events=%d added=%d dropped=%d\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Scheme, r.EnergyConfig, r.Analysis,
					r.EventsRead, r.EntriesAdded, r.EntriesDropped)
			}
			return nil
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run and its binned table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			s, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			bins, err := s.LoadBins(ctx, run.ID)
			if err != nil {
				return err
			}
			intervals, err := s.LoadIntervals(ctx, run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"run":       run,
					"bins":      len(bins),
					"intervals": intervals,
				})
			}
			fmt.Fprintf(out, "Run %s (%s)\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "  scheme:      %s\n", run.Scheme)
			fmt.Fprintf(out, "  energy:      %s\n", run.EnergyConfig)
			fmt.Fprintf(out, "  analysis:    %s\n", run.Analysis)
			fmt.Fprintf(out, "  weight mode: %s\n", run.WeightMode)
			fmt.Fprintf(out, "  events:      %d read, %d entries added, %d dropped\n", run.EventsRead, run.EntriesAdded, run.EntriesDropped)
			fmt.Fprintf(out, "  bins:        %d\n", len(bins))
			for _, iw := range intervals {
				fmt.Fprintf(out, "  Q2 [%g, %g) %s weight=%g\n", iw.Q2Min, iw.Q2Max, iw.Collision, iw.Weight)
			}
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			s, err := openRunStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.DeleteRun(cmd.Context(), args[0])
			if errors.Is(err, store.ErrRunNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]string{"deleted": args[0]})
			}
			fmt.Fprintf(out, "Deleted run %s\n", args[0])
			return nil
		},
	}
}
