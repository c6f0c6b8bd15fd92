// ABOUTME: Configuration loading and parsing for vouch-ledger
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Resolve.
const (
	EnvConfigPath = "VOUCH_CONFIG"
	EnvDBPath     = "VOUCH_DB_PATH"
)

// DefaultDBPath is used when neither the environment nor a config file names one.
const DefaultDBPath = "data/vouches.db"

// Config represents the complete vouch-ledger configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// LegacyNamespace is assigned to rows upgraded from pre-namespace layouts.
	LegacyNamespace string `yaml:"legacy_namespace" toml:"legacy_namespace"`

	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			LegacyNamespace: "0",
			BusyTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Fields the file leaves out keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Resolve builds the effective configuration. The file comes from path, or
// from VOUCH_CONFIG when path is empty; with neither, defaults apply.
// VOUCH_DB_PATH overrides the database path from any source.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Database.Path = p
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.LegacyNamespace == "" {
		return fmt.Errorf("database.legacy_namespace must not be empty")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Database.BusyTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
		cfg.Database.BusyTimeout = d
	}
	return nil
}
