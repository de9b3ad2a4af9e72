package failover

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LimitBackend counts requests per key per window on shared infrastructure
// so the limit holds across instances.
type LimitBackend interface {
	// Incr increments the counter for the key's current window and returns
	// the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiterConfig holds rate limiter settings.
type RateLimiterConfig struct {
	// Backend is the shared counter. Optional; without it limiting is
	// instance-local.
	Backend LimitBackend
	// Limit is the allowed number of requests per window per key.
	Limit int
	// Window is the measurement period.
	Window time.Duration
	Logger zerolog.Logger
}

// RateLimiter enforces a per-key request budget. While the shared backend is
// healthy the budget holds across instances; when it errors the limiter
// degrades to an in-process sliding window rather than failing the request.
type RateLimiter struct {
	backend LimitBackend
	limit   int
	window  time.Duration
	clock   clock.Clock
	logger  zerolog.Logger

	mu    sync.Mutex
	local map[string][]time.Time
}

// NewRateLimiter creates the wrapper.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{
		backend: cfg.Backend,
		limit:   cfg.Limit,
		window:  cfg.Window,
		clock:   clock.New(),
		logger:  cfg.Logger.With().Str("component", "failover-ratelimiter").Logger(),
		local:   make(map[string][]time.Time),
	}
}

// Allow reports whether a request under the key fits the budget. It never
// returns an error: a backend failure silently switches to local counting.
func (r *RateLimiter) Allow(ctx context.Context, key string) bool {
	if r.backend != nil {
		count, err := r.backend.Incr(ctx, key, r.window)
		if err == nil {
			return count <= int64(r.limit)
		}
		r.logger.Debug().Err(err).Str("key", key).Msg("Limit backend unavailable, counting locally")
	}
	return r.allowLocal(key)
}

// allowLocal is a sliding-window check over in-process timestamps.
func (r *RateLimiter) allowLocal(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.sweep(now.Add(-r.window))

	valid := r.local[key]
	if len(valid) >= r.limit {
		return false
	}
	r.local[key] = append(valid, now)
	return true
}

// sweep drops timestamps that fell out of the window and removes keys with
// none left, so idle keys do not accumulate in the map.
func (r *RateLimiter) sweep(cutoff time.Time) {
	for key, stamps := range r.local {
		valid := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				valid = append(valid, ts)
			}
		}
		if len(valid) == 0 {
			delete(r.local, key)
			continue
		}
		r.local[key] = valid
	}
}

// RedisLimiter implements LimitBackend with INCR + EXPIRE.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Incr implements LimitBackend.
func (l *RedisLimiter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := "ratelimit:" + key

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, bucket, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}
