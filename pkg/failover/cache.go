// Package failover wraps shared-infrastructure clients so their outages
// degrade functionality instead of surfacing errors. Callers never see a
// failure from these wrappers; at worst they get weaker guarantees (local
// cache, local rate limiting) until the backend recovers.
package failover

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CacheBackend is the distributed cache the wrapper prefers while healthy.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CacheConfig holds cache wrapper settings.
type CacheConfig struct {
	// Backend is the distributed cache. Optional; without it the wrapper
	// runs purely on the local LRU.
	Backend CacheBackend
	// LocalSize caps the in-process fallback LRU.
	LocalSize int
	Logger    zerolog.Logger
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is a read-through cache that transparently falls back to an
// in-process LRU when the distributed backend errors. No method returns an
// error.
type Cache struct {
	backend CacheBackend
	local   *lru.Cache[string, cacheEntry]
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewCache creates the wrapper. Panics only on an invalid LocalSize, which is
// a programming error, not a runtime condition.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = 1024
	}
	local, err := lru.New[string, cacheEntry](cfg.LocalSize)
	if err != nil {
		panic(err)
	}
	return &Cache{
		backend: cfg.Backend,
		local:   local,
		clock:   clock.New(),
		logger:  cfg.Logger.With().Str("component", "failover-cache").Logger(),
	}
}

// Get returns the cached value and whether it was found. Backend errors are
// logged and answered from the local LRU.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.backend != nil {
		value, found, err := c.backend.Get(ctx, key)
		if err == nil {
			return value, found
		}
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache backend unavailable, serving local")
	}

	entry, ok := c.local.Get(key)
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && c.clock.Now().After(entry.expiresAt) {
		c.local.Remove(key)
		return "", false
	}
	return entry.value, true
}

// Set stores the value in both tiers. A backend failure is logged; the local
// copy keeps reads working.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(ttl)
	}
	c.local.Add(key, entry)

	if c.backend != nil {
		if err := c.backend.Set(ctx, key, value, ttl); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache backend write failed, local only")
		}
	}
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.local.Remove(key)

	if c.backend != nil {
		if err := c.backend.Delete(ctx, key); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache backend delete failed")
		}
	}
}

// RedisCache implements CacheBackend on a Redis client.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements CacheBackend.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements CacheBackend.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements CacheBackend.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
