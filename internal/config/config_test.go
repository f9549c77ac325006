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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  base_url: https://localhost:5000/v1/api
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Environment.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "strikestream.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Minute, cfg.Broker.TickleInterval.Std())

	intervals := cfg.Intervals()
	assert.Equal(t, 500*time.Millisecond, intervals.Spot)
	assert.Equal(t, 15*time.Second, intervals.StrikeRefresh)
	assert.Equal(t, 200*time.Millisecond, intervals.Quote)
	assert.Equal(t, 2*time.Second, intervals.StatusPoll)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
environment:
  log_level: debug
broker:
  base_url: https://localhost:5000/v1/api
  insecure: true
server:
  port: 9000
streaming:
  spot_interval: 1s
  quote_interval: 250ms
storage:
  path: /tmp/chains.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Environment.LogLevel)
	assert.True(t, cfg.Broker.Insecure)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Intervals().Spot)
	assert.Equal(t, 250*time.Millisecond, cfg.Intervals().Quote)
	assert.Equal(t, "/tmp/chains.db", cfg.Storage.Path)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://gateway:5000/v1/api")
	path := writeConfig(t, `
broker:
  base_url: ${GATEWAY_URL}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway:5000/v1/api", cfg.Broker.BaseURL)
}

func TestLoadRejectsMissingBaseURL(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
broker:
  base_url: https://localhost:5000/v1/api
  provider: tradier
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
environment:
  log_level: verbose
broker:
  base_url: https://localhost:5000/v1/api
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
