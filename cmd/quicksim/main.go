package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvandessel/quicksim/internal/config"
	"github.com/nvandessel/quicksim/internal/logging"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quicksim",
		Short: "Luminosity weighting and binning for EIC simulation samples",
		Long: `quicksim weights simulated events by Q2 so that samples generated in
overlapping Q2 brackets combine into one experimental-luminosity yield,
bins them on N-dimensional schemes and folds binned yields through
migration matrices.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.quicksim/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newWeightsCmd(),
		newBinCmd(),
		newMigrateCmd(),
		newSummaryCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

// loadConfig resolves defaults, the --config file and the environment, then
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.QuicksimConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.QuicksimConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}
