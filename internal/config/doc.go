// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/toolgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cache:
//	  ttl: "5m"
//	  sweep_interval: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API listen address
//
// Database:
//
//	database:
//	  path: "/var/lib/toolgate/toolgate.db"
//
// Authentication and secret sealing:
//
//	auth:
//	  jwt_secret: "${TOOLGATE_JWT_SECRET}"   # Required
//	  secrets_key: "${TOOLGATE_SECRETS_KEY}" # 32 bytes, hex-encoded
//
// Tool cache:
//
//	cache:
//	  ttl: "5m"
//	  max_entries: 100
//	  sweep_interval: "1m"
//
// Consent policy:
//
//	security:
//	  require_consent: true
//	  allowed_origins: []
//	  blocked_origins: []
//	  max_tool_executions_per_hour: 1000
//	  audit_level: "basic"   # none, basic, detailed
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/toolgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
