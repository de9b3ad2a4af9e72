package transport

import (
	"context"
	"sync"
)

// Memory is an in-process transport. One Memory instance acts as the broker;
// every hub handed the same instance sees each other's publishes. It backs
// tests and degraded single-instance deployments.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]map[int]Handler
	nextID   int
	closed   bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]map[int]Handler)}
}

// Publish delivers the payload to every handler subscribed to the channel.
// Delivery is asynchronous, matching the fire-and-forget semantics of the
// networked transports.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.channels[channel]))
	for _, h := range m.channels[channel] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		go h(payload)
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (m *Memory) Subscribe(_ context.Context, channel string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if m.channels[channel] == nil {
		m.channels[channel] = make(map[int]Handler)
	}
	m.nextID++
	id := m.nextID
	m.channels[channel][id] = h

	return &memorySubscription{broker: m, channel: channel, id: id}, nil
}

// Close drops all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.channels = make(map[string]map[int]Handler)
	return nil
}

type memorySubscription struct {
	broker  *Memory
	channel string
	id      int
}

func (s *memorySubscription) Unsubscribe(_ context.Context) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if handlers, ok := s.broker.channels[s.channel]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.broker.channels, s.channel)
		}
	}
	return nil
}
