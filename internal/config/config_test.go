package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Source.Kind)
	assert.Equal(t, "memory", cfg.Transport.Kind)
	assert.Equal(t, 2*time.Second, cfg.Detector.PollInterval)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Gateway.SharedSecret = "secret"
		return cfg
	}

	t.Run("defaults plus a shared secret are valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("gateway requires a shared secret", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Error(t, cfg.Validate())

		cfg.Gateway.Enabled = false
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "unknown source kind",
			mutate: func(c *Config) { c.Source.Kind = "postgres" },
		},
		{
			name:   "unknown transport kind",
			mutate: func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		},
		{
			name: "redis transport without address",
			mutate: func(c *Config) {
				c.Transport.Kind = "redis"
				c.Redis.Addr = ""
			},
		},
		{
			name: "realtime transport without URL",
			mutate: func(c *Config) {
				c.Transport.Kind = "realtime"
				c.Realtime.URL = ""
			},
		},
		{
			name:   "gateway port out of range",
			mutate: func(c *Config) { c.Gateway.Port = 70000 },
		},
		{
			name:   "negative poll interval",
			mutate: func(c *Config) { c.Detector.PollInterval = -time.Second },
		},
		{
			name:   "negative change cap",
			mutate: func(c *Config) { c.Detector.MaxTotalChanges = -1 },
		},
		{
			name:   "negative cache size",
			mutate: func(c *Config) { c.Failover.CacheSize = -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.String()

	assert.Contains(t, out, `"detector"`)
	assert.Contains(t, out, `"gateway"`)
}
