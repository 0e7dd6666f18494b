// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/latchwork/toolgate/internal/store"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication and secret-sealing configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// SecretsKey is the hex-encoded key sealing stored env secrets.
	SecretsKey string `yaml:"secrets_key"`
}

// CacheConfig holds tool cache tuning
type CacheConfig struct {
	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	MaxEntries    int           `yaml:"max_entries"`

	// Raw string values for YAML unmarshaling
	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// SecurityConfig holds the consent policy applied to tool execution
type SecurityConfig struct {
	RequireConsent           bool     `yaml:"require_consent"`
	AllowedOrigins           []string `yaml:"allowed_origins"`
	BlockedOrigins           []string `yaml:"blocked_origins"`
	MaxToolExecutionsPerHour int      `yaml:"max_tool_executions_per_hour"`
	AuditLevel               string   `yaml:"audit_level"` // none, basic, detailed
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if _, err := c.SecretsKey(); err != nil {
		return err
	}

	switch c.Security.AuditLevel {
	case "", "none", "basic", "detailed":
	default:
		return fmt.Errorf("security.audit_level must be none, basic, or detailed, got %q", c.Security.AuditLevel)
	}

	return nil
}

// SecretsKey decodes the hex-encoded secrets key and checks its length.
func (c *Config) SecretsKey() ([]byte, error) {
	if c.Auth.SecretsKey == "" {
		return nil, fmt.Errorf("auth.secrets_key is required")
	}
	key, err := hex.DecodeString(c.Auth.SecretsKey)
	if err != nil {
		return nil, fmt.Errorf("auth.secrets_key must be hex-encoded: %w", err)
	}
	if len(key) != store.SecretsKeySize {
		return nil, fmt.Errorf("auth.secrets_key must decode to %d bytes, got %d", store.SecretsKeySize, len(key))
	}
	return key, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Cache.SweepIntervalRaw != "" {
		cfg.Cache.SweepInterval, err = time.ParseDuration(cfg.Cache.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.sweep_interval %q: %w", cfg.Cache.SweepIntervalRaw, err)
		}
	}

	return nil
}
