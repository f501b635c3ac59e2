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

	assert.Equal(t, "tg0", cfg.Tunnel.Name)
	assert.Equal(t, "10.0.0.2/32", cfg.Tunnel.Address)
	assert.Equal(t, 1500, cfg.Tunnel.MTU)
	assert.Equal(t, []string{"0.0.0.0/0"}, cfg.Tunnel.Routes)
	assert.Equal(t, 32767, cfg.Loop.BufferSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Loop.IdleBackoff)
	assert.Equal(t, 1024, cfg.Sink.QueueSize)
	assert.True(t, cfg.Sink.Notifications)
	assert.Zero(t, cfg.Events.Retention)
	assert.Equal(t, DefaultTrackerListURL, cfg.Trackers.ListURL)
	assert.True(t, cfg.Trackers.AutoUpdate)
	assert.Equal(t, 24*time.Hour, cfg.Trackers.RefreshInterval)
	assert.Empty(t, cfg.Trackers.DisabledCategories)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":memory:", cfg.DBPath())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trackguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/trackguard
log_level: debug
tunnel:
  name: tg9
  mtu: 1400
sink:
  queue_size: 16
  notifications: false
events:
  retention: 720h
trackers:
  auto_update: false
  disabled_categories: [Advertising, Social]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tg9", cfg.Tunnel.Name)
	assert.Equal(t, 1400, cfg.Tunnel.MTU)
	assert.Equal(t, 16, cfg.Sink.QueueSize)
	assert.False(t, cfg.Sink.Notifications)
	assert.Equal(t, 720*time.Hour, cfg.Events.Retention)
	assert.False(t, cfg.Trackers.AutoUpdate)
	assert.Equal(t, []string{"Advertising", "Social"}, cfg.Trackers.DisabledCategories)
	assert.Equal(t, "/var/lib/trackguard/trackguard.db", cfg.DBPath())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TRACKGUARD_LOG_LEVEL", "warn")
	t.Setenv("TRACKGUARD_SINK_QUEUE_SIZE", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Sink.QueueSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad tunnel address", func(c *Config) { c.Tunnel.Address = "nope" }},
		{"buffer below mtu", func(c *Config) { c.Loop.BufferSize = 1000 }},
		{"negative backoff", func(c *Config) { c.Loop.IdleBackoff = -time.Second }},
		{"empty queue", func(c *Config) { c.Sink.QueueSize = 0 }},
		{"retention without interval", func(c *Config) {
			c.Events.Retention = time.Hour
			c.Events.PruneInterval = 0
		}},
		{"refresh too frequent", func(c *Config) { c.Trackers.RefreshInterval = time.Second }},
		{"auto update without url", func(c *Config) { c.Trackers.ListURL = "" }},
		{"metrics path", func(c *Config) {
			c.Metrics.Listen = ":9090"
			c.Metrics.Path = "metrics"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
