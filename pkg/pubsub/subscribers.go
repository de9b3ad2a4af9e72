package pubsub

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber is one live consumer of events for a subscription key. Send is
// invoked synchronously for every event; OnClose fires exactly once, on
// explicit unsubscribe or hub shutdown, whichever comes first.
type Subscriber[E ~string] interface {
	Send(event E, data interface{})
	OnClose()
}

// SubscriberFuncs adapts plain functions to the Subscriber interface.
type SubscriberFuncs[E ~string] struct {
	SendFunc    func(event E, data interface{})
	OnCloseFunc func()
}

// Send implements Subscriber.
func (s *SubscriberFuncs[E]) Send(event E, data interface{}) {
	if s.SendFunc != nil {
		s.SendFunc(event, data)
	}
}

// OnClose implements Subscriber.
func (s *SubscriberFuncs[E]) OnClose() {
	if s.OnCloseFunc != nil {
		s.OnCloseFunc()
	}
}

// Registry is the per-process subscriber registry: subscription key → set of
// live local subscribers. It performs no I/O; the hub layers distribution on
// top of it.
type Registry[E ~string] struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]Subscriber[E]
	nextID      uint64
	logger      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry[E ~string](logger zerolog.Logger) *Registry[E] {
	return &Registry[E]{
		subscribers: make(map[string]map[uint64]Subscriber[E]),
		logger:      logger,
	}
}

// Add registers a subscriber under the key. It returns the registration id
// needed for removal and whether this was the first subscriber for the key.
func (r *Registry[E]) Add(key string, s Subscriber[E]) (id uint64, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.subscribers[key]
	if !exists {
		set = make(map[uint64]Subscriber[E])
		r.subscribers[key] = set
	}
	r.nextID++
	set[r.nextID] = s

	return r.nextID, !exists
}

// Remove unregisters a subscriber and fires its OnClose. It reports whether
// this was the last subscriber for the key. Removing an id twice is a no-op.
func (r *Registry[E]) Remove(key string, id uint64) (last bool) {
	r.mu.Lock()
	set, ok := r.subscribers[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	sub, ok := set[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(set, id)
	last = len(set) == 0
	if last {
		delete(r.subscribers, key)
	}
	r.mu.Unlock()

	r.close(sub)
	return last
}

// Broadcast delivers the event synchronously to every current subscriber of
// the key. A panicking subscriber is logged and skipped; it never blocks
// delivery to the rest.
func (r *Registry[E]) Broadcast(key string, event E, data interface{}) {
	r.mu.RLock()
	set := r.subscribers[key]
	targets := make([]Subscriber[E], 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.send(s, key, event, data)
	}
}

// HasSubscribers reports whether any subscriber is registered for the key.
func (r *Registry[E]) HasSubscribers(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers[key]) > 0
}

// Count returns the number of subscribers for one key.
func (r *Registry[E]) Count(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers[key])
}

// TotalCount returns the number of subscribers across all keys.
func (r *Registry[E]) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.subscribers {
		total += len(set)
	}
	return total
}

// Keys returns every key that currently has subscribers.
func (r *Registry[E]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.subscribers))
	for k := range r.subscribers {
		keys = append(keys, k)
	}
	return keys
}

// Shutdown fires OnClose for every subscriber across every key, then clears
// all state. Subscribers already removed are not closed again.
func (r *Registry[E]) Shutdown() {
	r.mu.Lock()
	remaining := r.subscribers
	r.subscribers = make(map[string]map[uint64]Subscriber[E])
	r.mu.Unlock()

	for _, set := range remaining {
		for _, s := range set {
			r.close(s)
		}
	}
}

func (r *Registry[E]) send(s Subscriber[E], key string, event E, data interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("key", key).
				Str("event", string(event)).
				Interface("panic", rec).
				Msg("Subscriber send panicked")
		}
	}()
	s.Send(event, data)
}

func (r *Registry[E]) close(s Subscriber[E]) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("Subscriber close panicked")
		}
	}()
	s.OnClose()
}
