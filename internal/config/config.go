// Package config provides unified configuration loading for quicksim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/nvandessel/quicksim/internal/binning"
	"github.com/nvandessel/quicksim/internal/constants"
	"github.com/nvandessel/quicksim/internal/kinematics"
	"github.com/nvandessel/quicksim/internal/weights"
	"gopkg.in/yaml.v3"
)

// QuicksimConfig contains all quicksim configuration settings.
type QuicksimConfig struct {
	// Analysis selects the event kind and beam setup.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Weights selects how per-event weights are derived.
	Weights WeightsConfig `json:"weights" yaml:"weights"`

	// Binning tunes geometry lookups.
	Binning BinningConfig `json:"binning" yaml:"binning"`

	// Output selects where and in which formats results are written.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and diagnostic logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// AnalysisConfig configures the event stream.
type AnalysisConfig struct {
	// Type is "DIS", "SIDIS" or "DISIDIS".
	Type string `json:"type" yaml:"type" env:"QUICKSIM_ANALYSIS_TYPE"`

	// EnergyConfig is the beam setup, e.g. "10x100".
	EnergyConfig string `json:"energy_config" yaml:"energy_config" env:"QUICKSIM_ENERGY_CONFIG"`

	// CollisionType is "ep" or "en" and picks the standard Q2 brackets.
	CollisionType string `json:"collision_type" yaml:"collision_type" env:"QUICKSIM_COLLISION_TYPE"`

	// FilesPerBracket caps manifest rows per Q2 bracket; 0 takes all.
	FilesPerBracket int `json:"files_per_bracket" yaml:"files_per_bracket" env:"QUICKSIM_FILES_PER_BRACKET"`

	// MaxEvents caps events per file and events read; 0 means no cap.
	MaxEvents int `json:"max_events" yaml:"max_events" env:"QUICKSIM_MAX_EVENTS"`

	// Workers is the number of parallel accumulators.
	Workers int `json:"workers" yaml:"workers" env:"QUICKSIM_WORKERS"`

	// SkipBadEvents drops events that fail binning instead of aborting.
	SkipBadEvents bool `json:"skip_bad_events" yaml:"skip_bad_events" env:"QUICKSIM_SKIP_BAD_EVENTS"`
}

// WeightsConfig configures the weight table.
type WeightsConfig struct {
	// Mode is "lumi", "default" or "precalculated".
	Mode string `json:"mode" yaml:"mode" env:"QUICKSIM_WEIGHTS_MODE"`

	// LuminosityCSV maps beam energies to experimental luminosity. Required
	// in "lumi" mode.
	LuminosityCSV string `json:"luminosity_csv,omitempty" yaml:"luminosity_csv,omitempty" env:"QUICKSIM_LUMINOSITY_CSV"`

	// PrecalculatedCSV holds exported interval weights. Required in
	// "precalculated" mode.
	PrecalculatedCSV string `json:"precalculated_csv,omitempty" yaml:"precalculated_csv,omitempty" env:"QUICKSIM_PRECALCULATED_CSV"`

	// ProtonMarker is the filename substring that marks an ep sample.
	ProtonMarker string `json:"proton_marker" yaml:"proton_marker" env:"QUICKSIM_PROTON_MARKER"`
}

// BinningConfig configures geometry lookups.
type BinningConfig struct {
	// ExplicitFallback is "projection" or "strict".
	ExplicitFallback string `json:"explicit_fallback" yaml:"explicit_fallback" env:"QUICKSIM_EXPLICIT_FALLBACK"`
}

// OutputConfig configures result sinks.
type OutputConfig struct {
	// Dir receives binned tables and diagnostics.
	Dir string `json:"dir" yaml:"dir" env:"QUICKSIM_OUTPUT_DIR"`

	// SQLite also stores each run in Dir/quicksim.db.
	SQLite bool `json:"sqlite" yaml:"sqlite" env:"QUICKSIM_OUTPUT_SQLITE"`

	// Arrow also writes the binned table as an Arrow IPC file.
	Arrow bool `json:"arrow" yaml:"arrow" env:"QUICKSIM_OUTPUT_ARROW"`

	// MetricsTextfile, when set, receives run counters in Prometheus text format.
	MetricsTextfile string `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty" env:"QUICKSIM_METRICS_TEXTFILE"`
}

// LoggingConfig configures quicksim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables diagnostics logging to <output.dir>/diagnostics.jsonl.
	// "trace" additionally logs every interval weight and dropped entry.
	Level string `json:"level" yaml:"level" env:"QUICKSIM_LOG_LEVEL"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `json:"enabled" yaml:"enabled" env:"QUICKSIM_TRACING_ENABLED"`

	// Endpoint is the OTLP/HTTP collector, e.g. "localhost:4318".
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"QUICKSIM_OTLP_ENDPOINT"`
}

// Default returns a QuicksimConfig with sensible defaults.
func Default() *QuicksimConfig {
	return &QuicksimConfig{
		Analysis: AnalysisConfig{
			Type:          string(kinematics.KindDIS),
			EnergyConfig:  "10x100",
			CollisionType: string(constants.CollisionEP),
			Workers:       1,
		},
		Weights: WeightsConfig{
			Mode:         string(weights.ModeDefault),
			ProtonMarker: constants.DefaultProtonMarker,
		},
		Binning: BinningConfig{
			ExplicitFallback: string(binning.FallbackEdgeProjection),
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.quicksim/config.yaml -> environment variables
func Load() (*QuicksimConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".quicksim", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadWithFile loads defaults, then path when non-empty, then environment
// overrides. An empty path behaves like Load.
func LoadWithFile(path string) (*QuicksimConfig, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*QuicksimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Weights.LuminosityCSV = expandPath(config.Weights.LuminosityCSV)
	config.Weights.PrecalculatedCSV = expandPath(config.Weights.PrecalculatedCSV)
	config.Output.Dir = expandPath(config.Output.Dir)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *QuicksimConfig) Validate() error {
	if _, err := kinematics.ParseKind(c.Analysis.Type); err != nil {
		return fmt.Errorf("invalid analysis type: %s (valid: DIS, SIDIS, DISIDIS)", c.Analysis.Type)
	}

	if !constants.CollisionType(c.Analysis.CollisionType).Valid() {
		return fmt.Errorf("invalid collision type: %s (valid: ep, en)", c.Analysis.CollisionType)
	}

	if c.Analysis.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Analysis.Workers)
	}

	if c.Analysis.MaxEvents < 0 || c.Analysis.FilesPerBracket < 0 {
		return fmt.Errorf("max_events and files_per_bracket must be non-negative")
	}

	mode := weights.Mode(c.Weights.Mode)
	if !mode.Valid() {
		return fmt.Errorf("invalid weights mode: %s (valid: lumi, default, precalculated)", c.Weights.Mode)
	}
	if mode == weights.ModeLuminosity && c.Weights.LuminosityCSV == "" {
		return fmt.Errorf("weights mode lumi requires luminosity_csv")
	}
	if mode == weights.ModePrecalculated && c.Weights.PrecalculatedCSV == "" {
		return fmt.Errorf("weights mode precalculated requires precalculated_csv")
	}

	if !binning.FallbackPolicy(c.Binning.ExplicitFallback).Valid() {
		return fmt.Errorf("invalid explicit_fallback: %s (valid: projection, strict)", c.Binning.ExplicitFallback)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled without an endpoint")
	}

	return nil
}

// applyEnvOverrides applies QUICKSIM_* environment variables over config.
// Unset variables leave the loaded values untouched.
func applyEnvOverrides(config *QuicksimConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// expandPath expands ${VAR} patterns and a leading "~/".
func expandPath(s string) string {
	if strings.Contains(s, "${") {
		s = os.Expand(s, os.Getenv)
	}
	if strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[2:])
		}
	}
	return s
}
