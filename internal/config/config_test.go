// ABOUTME: Tests for configuration loading: defaults, YAML parsing, env expansion.
// ABOUTME: Uses temp files per test; no shared fixtures on disk.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Gateway.Host)
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Empty(t, cfg.Gateway.Token)
	assert.False(t, cfg.Gateway.UseTLS)
	assert.Equal(t, DefaultSessionKey, cfg.Session.Key)
	assert.Equal(t, DefaultTimeout, cfg.Session.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
gateway:
  host: gw.example.com
  port: 9443
  token: s3cret
  use_tls: true
session:
  key: kitchen
  model: fast-model
  thinking: low
  timeout: 2m
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gw.example.com", cfg.Gateway.Host)
	assert.Equal(t, 9443, cfg.Gateway.Port)
	assert.Equal(t, "s3cret", cfg.Gateway.Token)
	assert.True(t, cfg.Gateway.UseTLS)
	assert.Equal(t, "kitchen", cfg.Session.Key)
	assert.Equal(t, "fast-model", cfg.Session.Model)
	assert.Equal(t, "low", cfg.Session.Thinking)
	assert.Equal(t, 2*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  token: s3cret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Gateway.Token)
	assert.Equal(t, DefaultHost, cfg.Gateway.Host)
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, DefaultSessionKey, cfg.Session.Key)
	assert.Equal(t, DefaultTimeout, cfg.Session.Timeout)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_GATEWAY_TOKEN", "from-env")

	path := writeConfig(t, `
gateway:
  token: ${TEST_GATEWAY_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Token)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
gateway:
  token: "${DEFINITELY_NOT_SET_ANYWHERE_42}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Gateway.Token)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway: [not: valid")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	path := writeConfig(t, `
session:
  timeout: soon
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing session.timeout")
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
session:
  timeout: -5s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "must be positive")
}

func TestValidate(t *testing.T) {
	t.Run("port out of range", func(t *testing.T) {
		path := writeConfig(t, `
gateway:
  port: 70000
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "out of range")
	})

	t.Run("empty host", func(t *testing.T) {
		path := writeConfig(t, `
gateway:
  host: ""
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "gateway.host is required")
	})

	t.Run("empty session key", func(t *testing.T) {
		path := writeConfig(t, `
session:
  key: ""
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "session.key must not be empty")
	})
}
