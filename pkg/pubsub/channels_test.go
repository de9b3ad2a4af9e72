package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_ConcurrentGetOrCreateInvokesFactoryOnce(t *testing.T) {
	lc := NewLifecycle[string]()

	var calls atomic.Int32
	factory := func() (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "handle", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := lc.GetOrCreate("k", factory)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "handle", v)
	}
}

func TestLifecycle_FailureMemoizedUntilTake(t *testing.T) {
	lc := NewLifecycle[string]()

	var calls atomic.Int32
	failing := func() (string, error) {
		calls.Add(1)
		return "", errors.New("backend down")
	}

	_, err := lc.GetOrCreate("k", failing)
	require.Error(t, err)

	// The failure stays memoized: no retry on the next call.
	_, err = lc.GetOrCreate("k", failing)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Take clears the entry; creation starts fresh afterwards.
	_, ok := lc.Take("k")
	assert.False(t, ok)

	_, err = lc.GetOrCreate("k", failing)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLifecycle_TakeReturnsHandleAndClears(t *testing.T) {
	lc := NewLifecycle[string]()

	_, err := lc.GetOrCreate("k", func() (string, error) { return "handle", nil })
	require.NoError(t, err)

	v, ok := lc.Take("k")
	assert.True(t, ok)
	assert.Equal(t, "handle", v)
	assert.Zero(t, lc.Len())

	_, ok = lc.Take("k")
	assert.False(t, ok)
}

func TestLifecycle_TakeWaitsForInFlightCreation(t *testing.T) {
	lc := NewLifecycle[string]()

	started := make(chan struct{})
	go func() {
		_, _ = lc.GetOrCreate("k", func() (string, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return "handle", nil
		})
	}()
	<-started

	v, ok := lc.Take("k")
	assert.True(t, ok)
	assert.Equal(t, "handle", v)
}

func TestLifecycle_ShutdownAwaitsInFlightAndTearsDown(t *testing.T) {
	lc := NewLifecycle[string]()

	for _, key := range []string{"a", "b", "c"} {
		key := key
		go func() {
			_, _ = lc.GetOrCreate(key, func() (string, error) {
				time.Sleep(50 * time.Millisecond)
				return "handle-" + key, nil
			})
		}()
	}
	// Let all three creations get in flight.
	require.Eventually(t, func() bool { return lc.Len() == 3 }, time.Second, 5*time.Millisecond)

	var tornDown atomic.Int32
	err := lc.Shutdown(func(string) error {
		tornDown.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), tornDown.Load())
	assert.Zero(t, lc.Len())
}

func TestLifecycle_ShutdownCollectsTeardownErrors(t *testing.T) {
	lc := NewLifecycle[string]()

	_, err := lc.GetOrCreate("a", func() (string, error) { return "a", nil })
	require.NoError(t, err)
	_, err = lc.GetOrCreate("b", func() (string, error) { return "b", nil })
	require.NoError(t, err)

	var attempts atomic.Int32
	shutdownErr := lc.Shutdown(func(string) error {
		attempts.Add(1)
		return errors.New("teardown failed")
	})

	// Every resource got its teardown attempt despite the failures.
	assert.Equal(t, int32(2), attempts.Load())
	assert.Error(t, shutdownErr)
}
