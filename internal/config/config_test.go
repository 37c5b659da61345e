// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"
  allowed_origins:
    - "https://portal.example.org"
    - "https://staging.example.org"

database:
  path: "./test.db"

directory:
  base_url: "https://directory.example.org"
  timeout: "5s"
  cache_ttl: "30s"

live:
  send_buffer: 32
  write_timeout: "10s"

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("Server.AllowedOrigins len = %d, want 2", len(cfg.Server.AllowedOrigins))
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify directory config with duration parsing
	if cfg.Directory.BaseURL != "https://directory.example.org" {
		t.Errorf("Directory.BaseURL = %q, want %q", cfg.Directory.BaseURL, "https://directory.example.org")
	}
	if cfg.Directory.Timeout != 5*time.Second {
		t.Errorf("Directory.Timeout = %v, want %v", cfg.Directory.Timeout, 5*time.Second)
	}
	if cfg.Directory.CacheTTL != 30*time.Second {
		t.Errorf("Directory.CacheTTL = %v, want %v", cfg.Directory.CacheTTL, 30*time.Second)
	}

	// Verify live delivery config
	if cfg.Live.SendBuffer != 32 {
		t.Errorf("Live.SendBuffer = %d, want 32", cfg.Live.SendBuffer)
	}
	if cfg.Live.WriteTimeout != 10*time.Second {
		t.Errorf("Live.WriteTimeout = %v, want %v", cfg.Live.WriteTimeout, 10*time.Second)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	// Set environment variables for testing
	t.Setenv("TEST_DB_PATH", "/data/from-env.db")
	t.Setenv("TEST_DIRECTORY_URL", "https://directory.from-env.org")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "${TEST_DB_PATH}"

directory:
  base_url: "${TEST_DIRECTORY_URL}"

logging:
  level: "info"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify env var expansion
	if cfg.Database.Path != "/data/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/from-env.db")
	}
	if cfg.Directory.BaseURL != "https://directory.from-env.org" {
		t.Errorf("Directory.BaseURL = %q, want %q", cfg.Directory.BaseURL, "https://directory.from-env.org")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Invalid YAML content
	configContent := `
server:
  http_addr "missing colon"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

directory:
  base_url: "https://directory.example.org"
  timeout: "invalid-duration"

logging:
  level: "info"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
database:
  path: "./test.db"
directory:
  base_url: "https://directory.example.org"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: ""
directory:
  base_url: "https://directory.example.org"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing directory base_url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
directory:
  base_url: ""
`,
			wantErrSubstr: "directory.base_url is required",
		},
		{
			name: "negative send buffer",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
directory:
  base_url: "https://directory.example.org"
live:
  send_buffer: -1
`,
			wantErrSubstr: "live.send_buffer must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			err := os.WriteFile(configPath, []byte(tt.configContent), 0644)
			if err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			_, err = Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
