// ABOUTME: Configuration loading and parsing for message-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete message-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Directory DirectoryConfig `yaml:"directory"`
	Live      LiveConfig      `yaml:"live"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DirectoryConfig holds user-directory client configuration
type DirectoryConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"-"`
	CacheTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw  string `yaml:"timeout"`
	CacheTTLRaw string `yaml:"cache_ttl"`
}

// LiveConfig holds WebSocket delivery configuration
type LiveConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout"`
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

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory.base_url is required")
	}

	if c.Live.SendBuffer < 0 {
		return fmt.Errorf("live.send_buffer must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Directory.TimeoutRaw != "" {
		cfg.Directory.Timeout, err = time.ParseDuration(cfg.Directory.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing directory timeout %q: %w", cfg.Directory.TimeoutRaw, err)
		}
	}

	if cfg.Directory.CacheTTLRaw != "" {
		cfg.Directory.CacheTTL, err = time.ParseDuration(cfg.Directory.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing directory cache_ttl %q: %w", cfg.Directory.CacheTTLRaw, err)
		}
	}

	if cfg.Live.WriteTimeoutRaw != "" {
		cfg.Live.WriteTimeout, err = time.ParseDuration(cfg.Live.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing live write_timeout %q: %w", cfg.Live.WriteTimeoutRaw, err)
		}
	}

	return nil
}
