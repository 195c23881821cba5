// Package config holds the capflow configuration: paths, database, logging
// and the GUI timing knobs. Loaded from YAML with environment overrides for
// database settings (env > file > defaults).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/capflow/locale"
)

// Config is the full capflow configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	GUI      GUIConfig      `yaml:"gui"`
	API      APIConfig      `yaml:"api"`

	// Locales enables control-text matching per language.
	// Recognized: es, en, de, fr.
	Locales []string `yaml:"locales"`

	// Keywords select measurement tree leaves; Exclusions reject leaves that
	// would otherwise match.
	Keywords   []string `yaml:"keywords"`
	Exclusions []string `yaml:"exclusions"`

	// Filters is the MIN/MAX/INSTANT checkbox tuple applied in the
	// configuration view.
	Filters FiltersConfig `yaml:"filters"`
}

// PathsConfig locates inputs, outputs and the durable state files.
type PathsConfig struct {
	InputDir   string `yaml:"input_dir"`
	OutputDir  string `yaml:"output_dir"`
	Registry   string `yaml:"registry"`
	Coords     string `yaml:"coords"`
	SummaryDir string `yaml:"summary_dir"`
	VendorExe  string `yaml:"vendor_exe"`
}

// DatabaseConfig configures the measurement database. Environment variables
// CAPFLOW_DB_PATH and CAPFLOW_OBS_DB_PATH take priority over the file.
type DatabaseConfig struct {
	Path    string `yaml:"path"`
	ObsPath string `yaml:"obs_path"`
}

// APIConfig configures the local status API. Disabled by default; when
// enabled it binds to localhost only.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig sets the slog level: debug, info, warn, error.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// GUIConfig carries the delay knobs, in seconds.
type GUIConfig struct {
	Delays DelaysConfig `yaml:"delays"`
}

// DelaysConfig mirrors the gui.delays section. All values are seconds.
type DelaysConfig struct {
	FileVerification float64 `yaml:"file_verification"`
	UIResponse       float64 `yaml:"ui_response"`
	BetweenFiles     float64 `yaml:"between_files"`
}

// FiltersConfig is the MIN/MAX/INSTANT on/off tuple.
type FiltersConfig struct {
	Min     bool `yaml:"min"`
	Max     bool `yaml:"max"`
	Instant bool `yaml:"instant"`
}

// Map converts the tuple into the desired-state map the configurator
// consumes.
func (f FiltersConfig) Map() map[locale.FilterID]bool {
	return map[locale.FilterID]bool{
		locale.FilterMin:     f.Min,
		locale.FilterMax:     f.Max,
		locale.FilterInstant: f.Instant,
	}
}

// DefaultConfig returns sane defaults for a single-operator console.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			InputDir:   "captures",
			OutputDir:  "exports",
			Registry:   "state/registry.json",
			Coords:     "state/coords.json",
			SummaryDir: "state/summaries",
		},
		Database: DatabaseConfig{
			Path:    "db/measurements.db",
			ObsPath: "db/observability.db",
		},
		Logging: LoggingConfig{Level: "info"},
		API:     APIConfig{Enabled: false, Addr: "127.0.0.1:8422"},
		GUI: GUIConfig{
			Delays: DelaysConfig{
				FileVerification: 2,
				UIResponse:       1,
				BetweenFiles:     4,
			},
		},
		Locales: []string{"es", "en", "de", "fr"},
		Keywords: []string{
			"tension", "voltage", "spannung",
			"corriente", "current", "strom", "courant",
			"potencia", "power", "leistung", "puissance",
			"promedio", "average", "media", "mittelwert", "moyenne",
		},
		Exclusions: []string{
			"thd", "armonic", "harmonic", "flicker", "desequilibrio", "unbalance",
		},
		Filters: FiltersConfig{Min: false, Max: false, Instant: false},
	}
}

// LoadConfig reads a YAML file merged over DefaultConfig, then applies
// environment overrides and validates.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv resolves database settings with env > file priority.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAPFLOW_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CAPFLOW_OBS_DB_PATH"); v != "" {
		c.Database.ObsPath = v
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Paths.InputDir == "" {
		return fmt.Errorf("paths.input_dir is required")
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("paths.output_dir is required")
	}
	if c.Paths.Registry == "" {
		return fmt.Errorf("paths.registry is required")
	}
	if len(c.Locales) == 0 {
		return fmt.Errorf("at least one locale is required")
	}
	for _, l := range c.Locales {
		switch l {
		case "es", "en", "de", "fr":
		default:
			return fmt.Errorf("unsupported locale %q (use es, en, de, fr)", l)
		}
	}
	if len(c.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if c.GUI.Delays.BetweenFiles < 0 || c.GUI.Delays.UIResponse < 0 || c.GUI.Delays.FileVerification < 0 {
		return fmt.Errorf("gui.delays must be non-negative")
	}
	return nil
}

// FileVerificationDelay returns the file-verification delay as a duration.
func (d DelaysConfig) FileVerificationDelay() time.Duration {
	return time.Duration(d.FileVerification * float64(time.Second))
}

// UIResponseDelay returns the post-click settle delay as a duration.
func (d DelaysConfig) UIResponseDelay() time.Duration {
	return time.Duration(d.UIResponse * float64(time.Second))
}

// BetweenFilesDelay returns the inter-file cool-down as a duration.
func (d DelaysConfig) BetweenFilesDelay() time.Duration {
	return time.Duration(d.BetweenFiles * float64(time.Second))
}
