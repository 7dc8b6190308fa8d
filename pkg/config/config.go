// Package config loads the YAML configuration surface for the matcher,
// with secrets and path overrides layered in from the environment via
// .env/.env.local files.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Match    MatchConfig    `yaml:"match"`
	Emission EmissionConfig `yaml:"emission_weights"`
	Transit  TransitConfig  `yaml:"transition_weights"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Grid     GridConfig     `yaml:"grid"`
}

// MatchConfig holds the Viterbi core's tunable parameters.
type MatchConfig struct {
	Radius           Distance `yaml:"radius"`
	MaxStates        int      `yaml:"max_states"`
	BeamWindow       int      `yaml:"beam_window"` // reserved, unused: see DESIGN.md
	SigmaDistance    float64  `yaml:"sigma_distance"`
	SigmaTransition  float64  `yaml:"sigma_transition"`
	BacktrackFactor  float64  `yaml:"backtrack_factor"`
	Start            int      `yaml:"start"`
	End              int      `yaml:"end"` // 0 means "to the end of the observation list"
}

// EmissionConfig holds the weighted-sum emission score weights. Must sum to 1.
type EmissionConfig struct {
	Distance    float64 `yaml:"distance"`
	Orientation float64 `yaml:"orientation"`
	SpeedLimit  float64 `yaml:"speed_limit"`
}

// TransitConfig holds the weighted-sum transition score weights. Must sum to 1.
type TransitConfig struct {
	DistanceDiff float64 `yaml:"distance_diff"`
	Backtrack    float64 `yaml:"backtrack"`
}

// DBConfig holds spatial-store connection settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// GridConfig holds the H3 resolution used to tag trace log lines and the
// expiry of the candidate provider's tile cache.
type GridConfig struct {
	H3Resolution int      `yaml:"h3_resolution"`
	CellTTL      Duration `yaml:"cell_ttl"`
}

// LogSettings holds settings for a single logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	App LogSettings `yaml:"app"`
}

// DefaultConfig returns the default configuration, matching the reference
// implementation's weights and radius.
func DefaultConfig() *Config {
	return &Config{
		Match: MatchConfig{
			Radius:          Distance(20),
			MaxStates:       10,
			BeamWindow:      0,
			SigmaDistance:   10,
			SigmaTransition: 50,
			BacktrackFactor: 0.1,
			Start:           0,
			End:             0,
		},
		Emission: EmissionConfig{
			Distance:    0.60,
			Orientation: 0.35,
			SpeedLimit:  0.05,
		},
		Transit: TransitConfig{
			DistanceDiff: 0.8,
			Backtrack:    0.2,
		},
		DB: DBConfig{
			Path: "./data/roads.db",
		},
		Log: LogConfig{
			App: LogSettings{
				Path:  "./logs/mapmatch.log",
				Level: "INFO",
			},
		},
		Grid: GridConfig{
			H3Resolution: 7,
			CellTTL:      Duration(10 * time.Minute),
		},
	}
}

// Load loads the configuration from path. If the file does not exist, it is
// created with default values. Existing files are merged over the defaults,
// not overwritten, so user comments/formatting in a pre-existing file are
// left untouched.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		_ = godotenv.Load(".env.local", ".env")
		loadSecretsFromEnv(cfg)

		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	_ = godotenv.Load(".env.local", ".env")
	loadSecretsFromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the configuration-error rules from the matcher's
// error-handling design: weights must sum to 1 within tolerance and radius
// must be positive.
func Validate(cfg *Config) error {
	if cfg.Match.Radius <= 0 {
		return fmt.Errorf("invalid config: match.radius must be positive, got %v", cfg.Match.Radius)
	}
	if cfg.Match.MaxStates <= 0 {
		return fmt.Errorf("invalid config: match.max_states must be positive, got %d", cfg.Match.MaxStates)
	}

	const tol = 1e-6
	eSum := cfg.Emission.Distance + cfg.Emission.Orientation + cfg.Emission.SpeedLimit
	if math.Abs(eSum-1) > tol {
		return fmt.Errorf("invalid config: emission_weights must sum to 1, got %v", eSum)
	}
	tSum := cfg.Transit.DistanceDiff + cfg.Transit.Backtrack
	if math.Abs(tSum-1) > tol {
		return fmt.Errorf("invalid config: transition_weights must sum to 1, got %v", tSum)
	}

	return nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# mapmatch configuration
# ---------------------
# Supported units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), mi (miles), ft (feet)

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at path if one does not
// already exist.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}

// loadSecretsFromEnv overlays environment-provided overrides onto the
// config. Currently the only override is the spatial-store path, so a batch
// run can point at a different database without editing the YAML file.
func loadSecretsFromEnv(cfg *Config) {
	if path := os.Getenv("MAPMATCH_DB_PATH"); path != "" {
		cfg.DB.Path = path
	}
}
