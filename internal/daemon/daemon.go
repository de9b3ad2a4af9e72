package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/regtech-io/pulse/internal/config"
	"github.com/regtech-io/pulse/internal/logger"
	"github.com/regtech-io/pulse/internal/metrics"
	"github.com/regtech-io/pulse/pkg/detector"
	"github.com/regtech-io/pulse/pkg/failover"
	"github.com/regtech-io/pulse/pkg/gateway"
	"github.com/regtech-io/pulse/pkg/pubsub"
	"github.com/regtech-io/pulse/pkg/schedule"
	"github.com/regtech-io/pulse/pkg/source"
	"github.com/regtech-io/pulse/pkg/transport"
)

// Daemon wires the whole update layer together: graph source, change
// detector, event hubs on a shared transport, failover tiers, metrics and the
// WebSocket gateway.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	lifecycle *LifecycleManager
	metrics   *metrics.Metrics

	transport   transport.Transport
	redisClient *redis.Client

	src      *source.Memory
	detector *detector.Detector
	convHub  *pubsub.Hub[pubsub.ConversationEvent]
	listHub  *pubsub.Hub[pubsub.ConversationListEvent]

	cache   *failover.Cache
	limiter *failover.RateLimiter

	gatewayServer *gateway.Server
	configWatcher *config.Watcher
	runner        *schedule.Runner

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	running   bool
	startTime time.Time
}

// Status describes the running daemon.
type Status struct {
	Running bool          `json:"running"`
	PID     int           `json:"pid"`
	Uptime  time.Duration `json:"uptime"`
	Clients int           `json:"clients"`
}

// New creates a daemon from configuration. Construction builds every module;
// nothing starts until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.initializeModules(); err != nil {
		cancel()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeModules() error {
	zl := d.logger.GetZerolog()
	cfg := d.config

	// Transport
	switch cfg.Transport.Kind {
	case "", "memory":
		d.transport = transport.NewMemory()
	case "redis":
		d.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.transport = transport.NewRedis(transport.RedisConfig{
			Addr:             cfg.Redis.Addr,
			Password:         cfg.Redis.Password,
			DB:               cfg.Redis.DB,
			SubscribeTimeout: cfg.Redis.SubscribeTimeout,
			Logger:           zl,
		})
	case "realtime":
		d.transport = transport.NewRealtime(transport.RealtimeConfig{
			URL:              cfg.Realtime.URL,
			Token:            cfg.Realtime.Token,
			SubscribeTimeout: cfg.Realtime.SubscribeTimeout,
			Logger:           zl,
		})
	default:
		return fmt.Errorf("unknown transport kind: %s", cfg.Transport.Kind)
	}

	// Event hubs
	hubCfg := pubsub.HubConfig{
		Transport:        d.transport,
		SubscribeTimeout: cfg.Hub.SubscribeTimeout,
		HealthTimeout:    cfg.Hub.HealthTimeout,
		Logger:           zl,
	}
	d.convHub = pubsub.NewConversationHub(hubCfg)
	d.listHub = pubsub.NewConversationListHub(hubCfg)

	// Graph source and change detector
	d.src = source.NewMemory()
	if cfg.Source.SeedFile != "" {
		if err := seedFromFile(d.src, cfg.Source.SeedFile); err != nil {
			return fmt.Errorf("failed to seed graph source: %w", err)
		}
		zl.Info().Str("file", cfg.Source.SeedFile).Msg("Graph source seeded")
	}

	var detectorOpts []detector.Option
	if cfg.Metrics.Enabled {
		d.metrics = metrics.NewMetrics()
		detectorOpts = append(detectorOpts, detector.WithObservers(d.metrics.DetectorObservers()))
	}

	d.detector = detector.New(detectorConfig(cfg), d.src, zl, detectorOpts...)

	// Failover tiers share the redis client when one exists; without it
	// they run on their local fallbacks from the start.
	var cacheBackend failover.CacheBackend
	var limitBackend failover.LimitBackend
	if d.redisClient != nil {
		cacheBackend = failover.NewRedisCache(d.redisClient)
		limitBackend = failover.NewRedisLimiter(d.redisClient)
	}
	d.cache = failover.NewCache(failover.CacheConfig{
		Backend:   cacheBackend,
		LocalSize: cfg.Failover.CacheSize,
		Logger:    zl,
	})
	d.limiter = failover.NewRateLimiter(failover.RateLimiterConfig{
		Backend: limitBackend,
		Limit:   cfg.Failover.RateLimit,
		Window:  cfg.Failover.RateWindow,
		Logger:  zl,
	})

	// Metrics
	if d.metrics != nil {
		d.metrics.RegisterDetector(d.detector.Stats)
		d.metrics.RegisterHub("conversation", d.convHub.Stats)
		d.metrics.RegisterHub("conversation-list", d.listHub.Stats)
	}

	// Gateway
	if cfg.Gateway.Enabled {
		gwCfg := gateway.Config{
			Port:                      cfg.Gateway.Port,
			SharedSecret:              cfg.Gateway.SharedSecret,
			TickInterval:              cfg.Gateway.TickInterval,
			MaxSubscriptionsPerClient: cfg.Gateway.MaxSubscriptions,
			Detector:                  d.detector,
			ConversationHub:           d.convHub,
			ConversationListHub:       d.listHub,
			Limiter:                   d.limiter,
			Cache:                     d.cache,
			CacheTTL:                  cfg.Failover.CacheTTL,
			Logger:                    zl,
		}
		if d.metrics != nil {
			gwCfg.Metrics = d.metrics.Handler()
		}

		server, err := gateway.NewServer(gwCfg)
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gatewayServer = server

		if d.metrics != nil {
			d.metrics.RegisterGateway(server.ClientCount)
		}
	}

	d.runner = schedule.NewRunner(zl)

	return nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Starting Pulse daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.detector.Start(d.ctx)

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		zl.Info().Msg("Gateway server started")
	}

	d.runner.Start(d.ctx, d.maintenanceTasks())

	d.startConfigWatcher()

	zl.Info().Msg("Daemon started successfully - all modules active")
	return nil
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.GetZerolog()
	zl.Info().Msg("Stopping Pulse daemon")

	if d.configWatcher != nil {
		d.configWatcher.Stop()
	}

	d.runner.Stop()

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			zl.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	d.detector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.convHub.Shutdown(shutdownCtx)
	d.listHub.Shutdown(shutdownCtx)

	if err := d.transport.Close(); err != nil {
		zl.Error().Err(err).Msg("Failed to close transport")
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			zl.Error().Err(err).Msg("Failed to close redis client")
		}
	}

	d.cancel()

	if err := d.lifecycle.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	zl.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := Status{
		Running: d.running,
		PID:     os.Getpid(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	if d.gatewayServer != nil {
		status.Clients = d.gatewayServer.ClientCount()
	}
	return status
}

// maintenanceTasks are the periodic housekeeping loops: a transport health
// probe through each hub, logged when it degrades.
func (d *Daemon) maintenanceTasks() []schedule.Task {
	interval := d.config.Daemon.HealthInterval
	if interval <= 0 {
		interval = time.Minute
	}

	zl := d.logger.GetZerolog()

	check := func(name string, probe func(context.Context) pubsub.HealthStatus) schedule.Task {
		return schedule.Task{
			Name:     name,
			Schedule: schedule.Schedule{Kind: schedule.KindEvery, Every: interval},
			Run: func(ctx context.Context) {
				status := probe(ctx)
				if !status.Healthy {
					zl.Warn().
						Str("hub", name).
						Str("error", status.Error).
						Msg("Hub health check failed")
				}
			},
		}
	}

	return []schedule.Task{
		check("conversation", d.convHub.HealthCheck),
		check("conversation-list", d.listHub.HealthCheck),
	}
}

// detectorConfig maps config knobs onto detector tuning.
func detectorConfig(cfg *config.Config) detector.Config {
	return detector.Config{
		PollInterval:     cfg.Detector.PollInterval,
		BatchWindow:      cfg.Detector.BatchWindow,
		MaxNodeChanges:   cfg.Detector.MaxNodeChanges,
		MaxEdgeChanges:   cfg.Detector.MaxEdgeChanges,
		MaxTotalChanges:  cfg.Detector.MaxTotalChanges,
		MinEmitInterval:  cfg.Detector.MinEmitInterval,
		FullRefreshEvery: cfg.Detector.FullRefreshEvery,
	}
}

// startConfigWatcher hot-applies the reloadable subset of the config: the
// logging level and the detector tunables. Anything structural (transport,
// gateway, hubs) needs a restart.
func (d *Daemon) startConfigWatcher() {
	zl := d.logger.GetZerolog()

	watcher, err := config.NewWatcher(config.NewLoader(d.config.ConfigPath), func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
			zl.Info().Str("level", cfg.Logging.Level).Msg("Log level updated")
		}
		d.detector.SetTunables(detectorConfig(cfg))
	}, zl)
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable")
		return
	}
	if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	d.configWatcher = watcher
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger.
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetDetector returns the change detector.
func (d *Daemon) GetDetector() *detector.Detector {
	return d.detector
}

// GetSource returns the in-memory graph source.
func (d *Daemon) GetSource() *source.Memory {
	return d.src
}

// GetConversationHub returns the per-conversation event hub.
func (d *Daemon) GetConversationHub() *pubsub.Hub[pubsub.ConversationEvent] {
	return d.convHub
}

// GetConversationListHub returns the conversation-list event hub.
func (d *Daemon) GetConversationListHub() *pubsub.Hub[pubsub.ConversationListEvent] {
	return d.listHub
}

// GetCache returns the failover cache.
func (d *Daemon) GetCache() *failover.Cache {
	return d.cache
}

// GetGatewayServer returns the gateway server, nil when disabled.
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
