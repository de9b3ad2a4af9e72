package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCacheBackend can be switched between healthy and failing.
type flakyCacheBackend struct {
	mu      sync.Mutex
	store   map[string]string
	failing bool
}

func newFlakyCacheBackend() *flakyCacheBackend {
	return &flakyCacheBackend{store: make(map[string]string)}
}

func (b *flakyCacheBackend) fail(failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = failing
}

func (b *flakyCacheBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return "", false, errors.New("backend down")
	}
	v, ok := b.store[key]
	return v, ok, nil
}

func (b *flakyCacheBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errors.New("backend down")
	}
	b.store[key] = value
	return nil
}

func (b *flakyCacheBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return errors.New("backend down")
	}
	delete(b.store, key)
	return nil
}

func TestCache_ServesFromBackendWhenHealthy(t *testing.T) {
	backend := newFlakyCacheBackend()
	cache := NewCache(CacheConfig{Backend: backend, Logger: zerolog.Nop()})

	cache.Set(context.Background(), "k", "v", 0)

	value, found := cache.Get(context.Background(), "k")
	assert.True(t, found)
	assert.Equal(t, "v", value)
}

func TestCache_FallsBackToLocalOnBackendFailure(t *testing.T) {
	backend := newFlakyCacheBackend()
	cache := NewCache(CacheConfig{Backend: backend, Logger: zerolog.Nop()})

	cache.Set(context.Background(), "k", "v", 0)
	backend.fail(true)

	// No error surfaces; the local tier answers.
	value, found := cache.Get(context.Background(), "k")
	assert.True(t, found)
	assert.Equal(t, "v", value)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	cache := NewCache(CacheConfig{Logger: zerolog.Nop()})

	_, found := cache.Get(context.Background(), "absent")
	assert.False(t, found)
}

func TestCache_DeleteRemovesBothTiers(t *testing.T) {
	backend := newFlakyCacheBackend()
	cache := NewCache(CacheConfig{Backend: backend, Logger: zerolog.Nop()})

	cache.Set(context.Background(), "k", "v", 0)
	cache.Delete(context.Background(), "k")

	_, found := cache.Get(context.Background(), "k")
	assert.False(t, found)
}

// flakyLimitBackend counts globally and can be switched to failing.
type flakyLimitBackend struct {
	mu      sync.Mutex
	counts  map[string]int64
	failing bool
}

func newFlakyLimitBackend() *flakyLimitBackend {
	return &flakyLimitBackend{counts: make(map[string]int64)}
}

func (b *flakyLimitBackend) fail(failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = failing
}

func (b *flakyLimitBackend) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failing {
		return 0, errors.New("backend down")
	}
	b.counts[key]++
	return b.counts[key], nil
}

func TestRateLimiter_EnforcesSharedBudget(t *testing.T) {
	backend := newFlakyLimitBackend()
	rl := NewRateLimiter(RateLimiterConfig{Backend: backend, Limit: 2, Window: time.Minute, Logger: zerolog.Nop()})

	assert.True(t, rl.Allow(context.Background(), "client1"))
	assert.True(t, rl.Allow(context.Background(), "client1"))
	assert.False(t, rl.Allow(context.Background(), "client1"))

	// Other keys have their own budget.
	assert.True(t, rl.Allow(context.Background(), "client2"))
}

func TestRateLimiter_DegradesToLocalCounting(t *testing.T) {
	backend := newFlakyLimitBackend()
	rl := NewRateLimiter(RateLimiterConfig{Backend: backend, Limit: 2, Window: time.Minute, Logger: zerolog.Nop()})

	backend.fail(true)

	// Still limiting, now on the in-process window, and never erroring.
	assert.True(t, rl.Allow(context.Background(), "client1"))
	assert.True(t, rl.Allow(context.Background(), "client1"))
	assert.False(t, rl.Allow(context.Background(), "client1"))
}

func TestRateLimiter_LocalOnlyWithoutBackend(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 1, Window: time.Minute, Logger: zerolog.Nop()})

	require.True(t, rl.Allow(context.Background(), "k"))
	assert.False(t, rl.Allow(context.Background(), "k"))
}

func TestRateLimiter_ForgetsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Limit: 2, Window: time.Minute, Logger: zerolog.Nop()})
	mock := clock.NewMock()
	rl.clock = mock

	for i := 0; i < 50; i++ {
		require.True(t, rl.Allow(context.Background(), fmt.Sprintf("client%d", i)))
	}

	// Once the window passes, a call for any key sweeps the rest out too.
	mock.Add(2 * time.Minute)
	require.True(t, rl.Allow(context.Background(), "fresh"))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.local, 1)
	_, ok := rl.local["fresh"]
	assert.True(t, ok)
}
