// ABOUTME: Configuration loading and parsing for the OpenClaw gateway client.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults matching a local gateway deployment.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 18789
	DefaultTimeout    = 30 * time.Second
	DefaultSessionKey = "main"
)

// Config represents the complete client configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig holds connection settings. These are immutable for the
// lifetime of one client; changing them means constructing a new client.
type GatewayConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Token  string `yaml:"token"`
	UseTLS bool   `yaml:"use_tls"`
}

// SessionConfig holds per-request agent settings.
type SessionConfig struct {
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
	Thinking string `yaml:"thinking"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file at path. A missing file is
// not an error; defaults are returned so the client works against a local
// unauthenticated gateway out of the box.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expanded := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Session: SessionConfig{
			Key:     DefaultSessionKey,
			Timeout: DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port)
	}
	if c.Session.Key == "" {
		return fmt.Errorf("session.key must not be empty")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Session.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Session.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session.timeout %q: %w", cfg.Session.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("session.timeout must be positive")
		}
		cfg.Session.Timeout = d
	}
	return nil
}
