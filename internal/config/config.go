package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Pulse configuration
type Config struct {
	// ConfigPath records where this config was loaded from. Not persisted.
	ConfigPath string `json:"-" mapstructure:"-"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Source of truth for the profile graph
	Source SourceConfig `json:"source" mapstructure:"source"`

	// Transport for cross-instance event distribution
	Transport TransportConfig `json:"transport" mapstructure:"transport"`

	// Redis connection, used by the redis transport and the failover tiers
	Redis RedisConfig `json:"redis" mapstructure:"redis"`

	// Realtime websocket service
	Realtime RealtimeConfig `json:"realtime" mapstructure:"realtime"`

	// Event hubs
	Hub HubConfig `json:"hub" mapstructure:"hub"`

	// Change detector
	Detector DetectorConfig `json:"detector" mapstructure:"detector"`

	// Failover cache and rate limiting
	Failover FailoverConfig `json:"failover" mapstructure:"failover"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Prometheus metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Daemon housekeeping
	Daemon DaemonConfig `json:"daemon" mapstructure:"daemon"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// SourceConfig selects the profile graph backend.
type SourceConfig struct {
	Kind string `json:"kind" mapstructure:"kind"` // memory
	// SeedFile optionally pre-populates the in-memory source.
	SeedFile string `json:"seed_file" mapstructure:"seed_file"`
}

// TransportConfig selects how events travel between instances.
type TransportConfig struct {
	Kind string `json:"kind" mapstructure:"kind"` // memory, redis, realtime
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr             string        `json:"addr" mapstructure:"addr"`
	Password         string        `json:"password" mapstructure:"password"`
	DB               int           `json:"db" mapstructure:"db"`
	SubscribeTimeout time.Duration `json:"subscribe_timeout" mapstructure:"subscribe_timeout"`
}

// RealtimeConfig holds the realtime websocket service settings.
type RealtimeConfig struct {
	URL              string        `json:"url" mapstructure:"url"`
	Token            string        `json:"token" mapstructure:"token"`
	SubscribeTimeout time.Duration `json:"subscribe_timeout" mapstructure:"subscribe_timeout"`
}

// HubConfig holds event hub settings.
type HubConfig struct {
	SubscribeTimeout time.Duration `json:"subscribe_timeout" mapstructure:"subscribe_timeout"`
	HealthTimeout    time.Duration `json:"health_timeout" mapstructure:"health_timeout"`
}

// DetectorConfig holds change detector settings.
type DetectorConfig struct {
	PollInterval     time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	BatchWindow      time.Duration `json:"batch_window" mapstructure:"batch_window"`
	MaxNodeChanges   int           `json:"max_node_changes" mapstructure:"max_node_changes"`
	MaxEdgeChanges   int           `json:"max_edge_changes" mapstructure:"max_edge_changes"`
	MaxTotalChanges  int           `json:"max_total_changes" mapstructure:"max_total_changes"`
	MinEmitInterval  time.Duration `json:"min_emit_interval" mapstructure:"min_emit_interval"`
	FullRefreshEvery int           `json:"full_refresh_every" mapstructure:"full_refresh_every"`
}

// FailoverConfig holds the degraded-mode cache and rate limiter settings.
type FailoverConfig struct {
	CacheSize  int           `json:"cache_size" mapstructure:"cache_size"`
	CacheTTL   time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	RateLimit  int           `json:"rate_limit" mapstructure:"rate_limit"`
	RateWindow time.Duration `json:"rate_window" mapstructure:"rate_window"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled          bool          `json:"enabled" mapstructure:"enabled"`
	Port             int           `json:"port" mapstructure:"port"`
	Host             string        `json:"host" mapstructure:"host"`
	SharedSecret     string        `json:"shared_secret" mapstructure:"shared_secret"`
	TickInterval     time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
	MaxSubscriptions int           `json:"max_subscriptions" mapstructure:"max_subscriptions"`
}

// MetricsConfig holds Prometheus exposure settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DaemonConfig holds daemon housekeeping settings.
type DaemonConfig struct {
	PIDFile        string        `json:"pid_file" mapstructure:"pid_file"`
	HealthInterval time.Duration `json:"health_interval" mapstructure:"health_interval"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Source: SourceConfig{
			Kind: "memory",
		},
		Transport: TransportConfig{
			Kind: "memory",
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			SubscribeTimeout: 5 * time.Second,
		},
		Realtime: RealtimeConfig{
			SubscribeTimeout: 5 * time.Second,
		},
		Hub: HubConfig{
			SubscribeTimeout: 5 * time.Second,
			HealthTimeout:    3 * time.Second,
		},
		Detector: DetectorConfig{
			PollInterval:     2 * time.Second,
			BatchWindow:      500 * time.Millisecond,
			MaxNodeChanges:   500,
			MaxEdgeChanges:   1000,
			MaxTotalChanges:  1200,
			MinEmitInterval:  250 * time.Millisecond,
			FullRefreshEvery: 10,
		},
		Failover: FailoverConfig{
			CacheSize:  4096,
			CacheTTL:   time.Minute,
			RateLimit:  60,
			RateWindow: time.Minute,
		},
		Gateway: GatewayConfig{
			Enabled:          true,
			Port:             8080,
			Host:             "0.0.0.0",
			TickInterval:     30 * time.Second,
			MaxSubscriptions: 32,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Daemon: DaemonConfig{
			HealthInterval: time.Minute,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "", "memory":
	default:
		return fmt.Errorf("invalid source kind %q (must be: memory)", c.Source.Kind)
	}

	switch c.Transport.Kind {
	case "", "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when transport is redis")
		}
	case "realtime":
		if c.Realtime.URL == "" {
			return fmt.Errorf("realtime URL is required when transport is realtime")
		}
	default:
		return fmt.Errorf("invalid transport kind %q (must be: memory, redis, realtime)", c.Transport.Kind)
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
		if c.Gateway.SharedSecret == "" {
			return fmt.Errorf("gateway shared secret is required when the gateway is enabled")
		}
	}

	if c.Detector.PollInterval < 0 {
		return fmt.Errorf("detector poll interval must not be negative")
	}
	if c.Detector.MaxNodeChanges < 0 || c.Detector.MaxEdgeChanges < 0 || c.Detector.MaxTotalChanges < 0 {
		return fmt.Errorf("detector change caps must not be negative")
	}
	if c.Detector.FullRefreshEvery < 0 {
		return fmt.Errorf("detector full refresh cadence must not be negative")
	}

	if c.Failover.CacheSize < 0 {
		return fmt.Errorf("failover cache size must not be negative")
	}
	if c.Failover.RateLimit < 0 {
		return fmt.Errorf("failover rate limit must not be negative")
	}

	return nil
}
