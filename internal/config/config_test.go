package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "./data/focusmate.db", cfg.Database.Path)
	assert.Equal(t, "Asia/Kolkata", cfg.Stats.Timezone)
	assert.Empty(t, cfg.Video.BaseURL)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
  shutdown_timeout: 5s
database:
  path: /tmp/test.db
video:
  base_url: ws://video.internal:7000
stats:
  timezone: UTC
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "ws://video.internal:7000", cfg.Video.BaseURL)
	assert.Equal(t, time.UTC, cfg.StatsLocation())

	// File settings layer over defaults, not replace them.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("FOCUSMATE_SERVER_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Server.Host = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero connections", func(c *Config) { c.Database.MaxConnections = 0 }},
		{"bogus timezone", func(c *Config) { c.Stats.Timezone = "Mars/Olympus" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStatsLocationFallsBackToUTC(t *testing.T) {
	cfg := Default()
	cfg.Stats.Timezone = ""
	assert.Equal(t, time.UTC, cfg.StatsLocation())
}
