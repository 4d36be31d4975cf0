// Package config handles configuration loading from YAML files, .env files
// and environment variables.
// Precedence: CLI flags > environment (.env included) > config file > embedded > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "2s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all daemon configuration.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	State     StateConfig     `yaml:"state"`
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CollectorConfig describes the collector binary and the shared directory
// holding its per-machine configuration and log files.
type CollectorConfig struct {
	Binary        string   `yaml:"binary"`
	ConfigDir     string   `yaml:"config_dir"`
	ConfigExt     string   `yaml:"config_ext"`
	WatchConfig   string   `yaml:"watch_config"`
	StopGrace     Duration `yaml:"stop_grace"`
	ResumeOnStart bool     `yaml:"resume_on_start"`
	ResumeStagger Duration `yaml:"resume_stagger"`
}

// StateConfig tunes connection state inference.
type StateConfig struct {
	TailLines int `yaml:"tail_lines"`
}

// StoreConfig selects the profile document store.
type StoreConfig struct {
	Driver     string   `yaml:"driver"`
	URL        string   `yaml:"url"`
	User       string   `yaml:"user"`
	Password   string   `yaml:"password"`
	Database   string   `yaml:"database"`
	SQLitePath string   `yaml:"sqlite_path"`
	Timeout    Duration `yaml:"timeout"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Collector: CollectorConfig{
			Binary:        "telegraf",
			ConfigDir:     "/etc/telegraf/telegraf.d",
			ConfigExt:     ".conf",
			WatchConfig:   "notify",
			ResumeOnStart: true,
			ResumeStagger: Duration{2 * time.Second},
		},
		State: StateConfig{
			TailLines: 50,
		},
		Store: StoreConfig{
			Driver:     "couchdb",
			URL:        "http://localhost:5984",
			User:       "default_user",
			Password:   "default_secret_key",
			Database:   "datalink",
			SQLitePath: "/var/lib/plc-datalink/profiles.db",
			Timeout:    Duration{10 * time.Second},
		},
		HTTP: HTTPConfig{
			Addr:        ":5000",
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "/var/log/plc-datalink-rfc1006.log",
			MaxSizeMB:  50,
			MaxBackups: 1,
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	ConfigDir   string
	HTTPAddr    string
	LogLevel    string
	StoreDriver string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cli.ConfigDir != "" {
		cfg.Collector.ConfigDir = cli.ConfigDir
	}
	if cli.HTTPAddr != "" {
		cfg.HTTP.Addr = cli.HTTPAddr
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.StoreDriver != "" {
		cfg.Store.Driver = cli.StoreDriver
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// The DATABASE_* names are those of existing deployments.
func applyEnvOverrides(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Store.URL, "DATABASE_URL")
	set(&cfg.Store.User, "DATABASE_USER_NAME")
	set(&cfg.Store.Password, "DATABASE_SECRET_KEY")
	set(&cfg.Store.Database, "DATABASE_NAME")
	set(&cfg.Store.Driver, "DATALINK_STORE_DRIVER")
	set(&cfg.Collector.ConfigDir, "DATALINK_CONFIG_DIR")
	set(&cfg.Collector.Binary, "DATALINK_COLLECTOR_BIN")
	set(&cfg.HTTP.Addr, "DATALINK_HTTP_ADDR")
	set(&cfg.Logging.Level, "DATALINK_LOG_LEVEL")
}

var (
	validDrivers    = []string{"couchdb", "sqlite"}
	validWatchModes = []string{"", "notify", "poll"}
	validLevels     = []string{"debug", "info", "warn", "error"}
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Collector.Binary == "" {
		return fmt.Errorf("collector binary is required")
	}
	if c.Collector.ConfigDir == "" {
		return fmt.Errorf("collector config directory is required")
	}
	if !strings.HasPrefix(c.Collector.ConfigExt, ".") || c.Collector.ConfigExt == ".log" {
		return fmt.Errorf("collector config extension must start with a dot and differ from .log (got: %q)", c.Collector.ConfigExt)
	}
	if !slices.Contains(validWatchModes, c.Collector.WatchConfig) {
		return fmt.Errorf("collector watch_config must be notify, poll or empty (got: %q)", c.Collector.WatchConfig)
	}
	if c.Collector.StopGrace.Duration < 0 || c.Collector.ResumeStagger.Duration < 0 {
		return fmt.Errorf("collector durations must not be negative")
	}
	if c.State.TailLines < 1 {
		return fmt.Errorf("state tail_lines must be at least 1 (got: %d)", c.State.TailLines)
	}
	if !slices.Contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "couchdb" && (c.Store.URL == "" || c.Store.Database == "") {
		return fmt.Errorf("couchdb store requires url and database")
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("sqlite store requires sqlite_path")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http addr is required")
	}
	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
