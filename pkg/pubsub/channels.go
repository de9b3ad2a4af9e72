package pubsub

import (
	"errors"
	"sync"
)

// Lifecycle lazily creates one shared resource per key, collapsing concurrent
// creations into a single factory call. The result — success or failure — is
// memoized until Take removes it, so N simultaneous subscribers for a key
// trigger exactly one creation.
type Lifecycle[T any] struct {
	mu      sync.Mutex
	entries map[string]*lifecycleEntry[T]
}

type lifecycleEntry[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// NewLifecycle creates an empty lifecycle manager.
func NewLifecycle[T any]() *Lifecycle[T] {
	return &Lifecycle[T]{entries: make(map[string]*lifecycleEntry[T])}
}

// GetOrCreate returns the memoized resource for the key, invoking factory at
// most once per key. Callers racing on the same key block on the same
// in-flight creation rather than starting their own.
func (l *Lifecycle[T]) GetOrCreate(key string, factory func() (T, error)) (T, error) {
	l.mu.Lock()
	e, exists := l.entries[key]
	if exists {
		l.mu.Unlock()
		<-e.done
		return e.value, e.err
	}

	e = &lifecycleEntry[T]{done: make(chan struct{})}
	l.entries[key] = e
	l.mu.Unlock()

	e.value, e.err = factory()
	close(e.done)
	return e.value, e.err
}

// Take atomically removes the entry for the key and returns its resource,
// waiting out an in-flight creation first. The second return is false when no
// entry exists or the memoized creation had failed. After Take, a subsequent
// GetOrCreate starts a fresh creation.
func (l *Lifecycle[T]) Take(key string) (T, bool) {
	l.mu.Lock()
	e, exists := l.entries[key]
	if exists {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	if !exists {
		var zero T
		return zero, false
	}

	<-e.done
	if e.err != nil {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Len returns the number of memoized entries, in-flight creations included.
func (l *Lifecycle[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Shutdown waits for every in-flight creation, applies teardown to each
// successfully created resource, and clears all state. Teardown failures are
// collected, not fatal: every resource gets its teardown attempt.
func (l *Lifecycle[T]) Shutdown(teardown func(T) error) error {
	l.mu.Lock()
	remaining := l.entries
	l.entries = make(map[string]*lifecycleEntry[T])
	l.mu.Unlock()

	var errs []error
	for _, e := range remaining {
		<-e.done
		if e.err != nil {
			continue
		}
		if err := teardown(e.value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
