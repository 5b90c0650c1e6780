package main

import (
	"encoding/json"
	"fmt"

	"github.com/nvandessel/quicksim/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show quicksim configuration",
		Long: `View the effective quicksim configuration.

Settings come from defaults, then ~/.quicksim/config.yaml (or --config),
then QUICKSIM_* environment variables.

Examples:
  quicksim config list                  # Show all settings
  quicksim config get weights.mode      # Get a specific setting
  quicksim config list --json`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path, _ := cmd.Flags().GetString("config")

			cfg, err := config.LoadWithFile(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(cfg)
			}
			fmt.Fprintln(out, "Configuration:")
			fmt.Fprintln(out)
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path, _ := cmd.Flags().GetString("config")
			key := args[0]

			cfg, err := config.LoadWithFile(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			value, found := getConfigValue(cfg, key)
			if !found {
				if jsonOut {
					json.NewEncoder(out).Encode(map[string]interface{}{
						"error": "key not found",
						"key":   key,
					})
				} else {
					fmt.Fprintf(out, "Unknown configuration key: %s\n", key)
				}
				return nil
			}

			if jsonOut {
				json.NewEncoder(out).Encode(map[string]interface{}{
					"key":   key,
					"value": value,
				})
			} else {
				fmt.Fprintf(out, "%s = %v\n", key, value)
			}
			return nil
		},
	}
}

// getConfigValue returns a configuration value by dot-notation key.
func getConfigValue(cfg *config.QuicksimConfig, key string) (interface{}, bool) {
	switch key {
	case "analysis.type":
		return cfg.Analysis.Type, true
	case "analysis.energy_config":
		return cfg.Analysis.EnergyConfig, true
	case "analysis.collision_type":
		return cfg.Analysis.CollisionType, true
	case "analysis.files_per_bracket":
		return cfg.Analysis.FilesPerBracket, true
	case "analysis.max_events":
		return cfg.Analysis.MaxEvents, true
	case "analysis.workers":
		return cfg.Analysis.Workers, true
	case "analysis.skip_bad_events":
		return cfg.Analysis.SkipBadEvents, true
	case "weights.mode":
		return cfg.Weights.Mode, true
	case "weights.luminosity_csv":
		return cfg.Weights.LuminosityCSV, true
	case "weights.precalculated_csv":
		return cfg.Weights.PrecalculatedCSV, true
	case "weights.proton_marker":
		return cfg.Weights.ProtonMarker, true
	case "binning.explicit_fallback":
		return cfg.Binning.ExplicitFallback, true
	case "output.dir":
		return cfg.Output.Dir, true
	case "output.sqlite":
		return cfg.Output.SQLite, true
	case "output.arrow":
		return cfg.Output.Arrow, true
	case "output.metrics_textfile":
		return cfg.Output.MetricsTextfile, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "tracing.enabled":
		return cfg.Tracing.Enabled, true
	case "tracing.endpoint":
		return cfg.Tracing.Endpoint, true
	default:
		return nil, false
	}
}
