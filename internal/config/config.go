// ABOUTME: Configuration loading and parsing for warren
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warren configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Presets    PresetsConfig    `yaml:"presets"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig selects and tunes the execution engine backing agent runs
type EngineConfig struct {
	// Type selects the engine implementation. "scripted" is the only
	// built-in; it replays canned message streams for development.
	Type              string `yaml:"type"`
	DefaultModel      string `yaml:"default_model"`
	DefaultWorkingDir string `yaml:"default_working_dir"`

	StepDelay time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	StepDelayRaw string `yaml:"step_delay"`
}

// EnrichmentConfig tunes the background summary worker pool
type EnrichmentConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// BroadcastConfig tunes the event fan-out
type BroadcastConfig struct {
	// BufferSize is the per-subscriber channel depth; slow subscribers
	// drop events beyond it rather than blocking publishers
	BufferSize int `yaml:"buffer_size"`
}

// PresetsConfig points at the TOML agent preset catalog
type PresetsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8180"
	}
	if c.Database.Path == "" {
		c.Database.Path = "warren.db"
	}
	if c.Engine.Type == "" {
		c.Engine.Type = "scripted"
	}
	if c.Engine.DefaultModel == "" {
		c.Engine.DefaultModel = "sonnet"
	}
	if c.Enrichment.Workers <= 0 {
		c.Enrichment.Workers = 2
	}
	if c.Enrichment.QueueSize <= 0 {
		c.Enrichment.QueueSize = 256
	}
	if c.Enrichment.Timeout <= 0 {
		c.Enrichment.Timeout = 10 * time.Second
	}
	if c.Broadcast.BufferSize <= 0 {
		c.Broadcast.BufferSize = 64
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Engine.Type != "scripted" {
		return fmt.Errorf("engine.type %q is not supported", c.Engine.Type)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.StepDelayRaw != "" {
		cfg.Engine.StepDelay, err = time.ParseDuration(cfg.Engine.StepDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing step_delay %q: %w", cfg.Engine.StepDelayRaw, err)
		}
	}

	if cfg.Enrichment.TimeoutRaw != "" {
		cfg.Enrichment.Timeout, err = time.ParseDuration(cfg.Enrichment.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Enrichment.TimeoutRaw, err)
		}
	}

	return nil
}
