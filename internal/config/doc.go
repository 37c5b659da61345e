// Package config handles configuration loading for message-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${GATEWAY_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	directory:
//	  timeout: "5s"
//	  cache_ttl: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and WebSocket endpoint
//	  allowed_origins:            # CORS / WebSocket origins
//	    - "https://portal.example.org"
//
// Database:
//
//	database:
//	  path: "/var/lib/gateway/messages.db"
//
// User directory:
//
//	directory:
//	  base_url: "https://directory.example.org"
//	  timeout: "5s"
//	  cache_ttl: "30s"   # 0 disables membership caching
//
// Live delivery:
//
//	live:
//	  send_buffer: 32       # per-session outbound event buffer
//	  write_timeout: "10s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Required addresses and paths are present
//   - Duration format validity
//   - Buffer sizes are non-negative
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/gateway/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
