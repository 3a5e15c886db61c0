package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "0.0.0.0:9999", cfg.Listen)
	require.Equal(t, 10, cfg.RateLimit)
	require.Equal(t, 10*time.Second, cfg.TimeWindow)
	require.Equal(t, 60*time.Second, cfg.BlockTime)
	require.EqualValues(t, 30*1024*1024, cfg.TrafficThreshold)
	require.Equal(t, time.Second, cfg.AnalyzeInterval)
	require.Equal(t, "server.log", cfg.LogFile)
	require.Equal(t, 1024, cfg.ReadBuffer)
	require.Zero(t, cfg.IdleTimeout)
	require.True(t, cfg.Firewall)
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := Default()
	found, err := LoadFile(&cfg, filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, Default(), cfg)
}

func TestLoadFile_OverridesOnlyPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcp-guard.toml")
	data := `
listen = "127.0.0.1:7000"
rate_limit = 3
time_window_seconds = 5
redis_addr = "localhost:6379"
accept_rate = 2.5
idle_timeout_seconds = 30
firewall = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg := Default()
	found, err := LoadFile(&cfg, path)
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, "127.0.0.1:7000", cfg.Listen)
	require.Equal(t, 3, cfg.RateLimit)
	require.Equal(t, 5*time.Second, cfg.TimeWindow)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 2.5, cfg.AcceptRate)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.False(t, cfg.Firewall)

	// Untouched keys keep their defaults.
	require.Equal(t, 60*time.Second, cfg.BlockTime)
	require.Equal(t, "info", cfg.LogLevel)

	limits := cfg.Limits()
	require.Equal(t, 3, limits.RateLimit)
	require.Equal(t, 5*time.Second, limits.TimeWindow)
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit = "), 0o644))

	cfg := Default()
	found, err := LoadFile(&cfg, path)
	require.Error(t, err)
	require.True(t, found)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen", func(c *Config) { c.Listen = "" }},
		{"zero rate limit", func(c *Config) { c.RateLimit = 0 }},
		{"zero window", func(c *Config) { c.TimeWindow = 0 }},
		{"zero block time", func(c *Config) { c.BlockTime = 0 }},
		{"zero threshold", func(c *Config) { c.TrafficThreshold = 0 }},
		{"zero analyze interval", func(c *Config) { c.AnalyzeInterval = 0 }},
		{"zero read buffer", func(c *Config) { c.ReadBuffer = 0 }},
		{"negative max conns", func(c *Config) { c.MaxConns = -1 }},
		{"negative accept rate", func(c *Config) { c.AcceptRate = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
