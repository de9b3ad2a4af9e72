package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/regtech-io/pulse/pkg/transport"
)

// HealthStatus is the result of a hub health probe. Healthy hubs have an
// empty Error.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Stats is a point-in-time snapshot of hub activity counters.
type Stats struct {
	LocalSubscribers int
	ActiveChannels   int
	Published        int64
	PublishFailures  int64
	Received         int64
	SelfFiltered     int64
}

// HubConfig holds hub construction parameters.
type HubConfig struct {
	// Name is the event-family name, used as the channel prefix on the
	// transport (e.g. "conversation" → channel "conversation:<key>").
	Name string
	// Transport distributes events across instances. Required.
	Transport transport.Transport
	// SubscribeTimeout bounds distributed channel establishment.
	SubscribeTimeout time.Duration
	// HealthTimeout bounds the health-check round trip.
	HealthTimeout time.Duration
	Logger        zerolog.Logger
}

// Hub distributes events for one event family. Local subscribers always
// receive events published on their own instance, synchronously and before
// any network I/O; the distributed transport extends delivery to other
// instances and may degrade without affecting local delivery.
type Hub[E ~string] struct {
	name       string
	transport  transport.Transport
	registry   *Registry[E]
	channels   *Lifecycle[transport.Subscription]
	instanceID string
	logger     zerolog.Logger

	subscribeTimeout time.Duration
	healthTimeout    time.Duration

	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	published       atomic.Int64
	publishFailures atomic.Int64
	received        atomic.Int64
	selfFiltered    atomic.Int64
}

// NewHub creates a hub for one event family. The instance id is generated
// here and is unique per hub instance for the life of the process.
func NewHub[E ~string](cfg HubConfig) *Hub[E] {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	logger := cfg.Logger.With().Str("hub", cfg.Name).Logger()

	return &Hub[E]{
		name:             cfg.Name,
		transport:        cfg.Transport,
		registry:         NewRegistry[E](logger),
		channels:         NewLifecycle[transport.Subscription](),
		instanceID:       uuid.NewString(),
		logger:           logger,
		subscribeTimeout: cfg.SubscribeTimeout,
		healthTimeout:    cfg.HealthTimeout,
	}
}

// InstanceID returns the process-unique identifier stamped on every message
// this hub publishes.
func (h *Hub[E]) InstanceID() string {
	return h.instanceID
}

// Subscribe registers a local subscriber for the key and returns its
// unsubscribe function. The first subscriber for a key triggers distributed
// channel establishment in the background; establishment failures are logged,
// never surfaced, because local delivery works without the distributed layer.
// The returned function is safe to call more than once.
func (h *Hub[E]) Subscribe(key string, sub Subscriber[E]) func() {
	id, first := h.registry.Add(key, sub)
	if first {
		go h.ensureChannel(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if h.registry.Remove(key, id) {
				go h.teardownChannel(key)
			}
		})
	}
}

// Broadcast delivers the event to every local subscriber of the key
// synchronously, then publishes it to the distributed channel in the
// background for other instances. Publish failures are logged and swallowed.
func (h *Hub[E]) Broadcast(key string, event E, data interface{}) {
	h.registry.Broadcast(key, event, data)

	go h.publish(key, event, data)
}

// HealthCheck probes the transport with a subscribe-then-unsubscribe round
// trip against a private channel. It never returns an error; transport
// failure shows up as an unhealthy status within the configured timeout.
func (h *Hub[E]) HealthCheck(ctx context.Context) HealthStatus {
	probe, err := gonanoid.New()
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	channel := h.name + ":health:" + probe

	ctx, cancel := context.WithTimeout(ctx, h.healthTimeout)
	defer cancel()

	sub, err := h.transport.Subscribe(ctx, channel, func([]byte) {})
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// Shutdown marks the hub as shutting down — inbound messages already in
// flight are silently discarded — tears down every distributed channel, then
// closes all local subscribers. Teardown failures are logged; shutdown always
// runs to completion. Safe to call once; later calls are no-ops.
func (h *Hub[E]) Shutdown(ctx context.Context) {
	h.shutdownOnce.Do(func() {
		h.shuttingDown.Store(true)

		if err := h.channels.Shutdown(func(sub transport.Subscription) error {
			return sub.Unsubscribe(ctx)
		}); err != nil {
			h.logger.Error().Err(err).Msg("Channel teardown incomplete during shutdown")
		}

		h.registry.Shutdown()
		h.logger.Info().Msg("Hub shut down")
	})
}

// HasSubscribers reports whether any local subscriber exists for the key.
func (h *Hub[E]) HasSubscribers(key string) bool {
	return h.registry.HasSubscribers(key)
}

// SubscriberCount returns the number of local subscribers for one key.
func (h *Hub[E]) SubscriberCount(key string) int {
	return h.registry.Count(key)
}

// Stats returns a snapshot of hub activity.
func (h *Hub[E]) Stats() Stats {
	return Stats{
		LocalSubscribers: h.registry.TotalCount(),
		ActiveChannels:   h.channels.Len(),
		Published:        h.published.Load(),
		PublishFailures:  h.publishFailures.Load(),
		Received:         h.received.Load(),
		SelfFiltered:     h.selfFiltered.Load(),
	}
}

func (h *Hub[E]) channelName(key string) string {
	return h.name + ":" + key
}

// ensureChannel lazily materializes the distributed subscription for a key.
// Concurrent first-subscribers collapse onto one creation via the lifecycle
// manager; a failed creation stays memoized until the key's last unsubscribe
// so churning subscribers don't hammer a down transport.
func (h *Hub[E]) ensureChannel(key string) {
	_, err := h.channels.GetOrCreate(key, func() (transport.Subscription, error) {
		ctx, cancel := context.WithTimeout(context.Background(), h.subscribeTimeout)
		defer cancel()

		return h.transport.Subscribe(ctx, h.channelName(key), func(payload []byte) {
			h.handleInbound(key, payload)
		})
	})
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("key", key).
			Msg("Distributed channel unavailable, continuing local-only")
		return
	}

	// The last unsubscribe (or a shutdown) may have raced past while the
	// channel was establishing; its teardown found nothing to take. Re-check
	// and release, mirroring the re-check on the teardown side.
	if h.shuttingDown.Load() || !h.registry.HasSubscribers(key) {
		h.releaseChannel(key)
	}
}

// teardownChannel destroys the channel after the last local unsubscribe. A
// subscriber arriving during teardown re-establishes the channel.
func (h *Hub[E]) teardownChannel(key string) {
	h.releaseChannel(key)

	if !h.shuttingDown.Load() && h.registry.HasSubscribers(key) {
		h.ensureChannel(key)
	}
}

func (h *Hub[E]) releaseChannel(key string) {
	sub, ok := h.channels.Take(key)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.subscribeTimeout)
	defer cancel()

	if err := sub.Unsubscribe(ctx); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Channel teardown failed")
	}
}

// handleInbound processes one payload from the distributed transport.
func (h *Hub[E]) handleInbound(key string, payload []byte) {
	if h.shuttingDown.Load() {
		return
	}
	if !h.registry.HasSubscribers(key) {
		return
	}

	env, err := decodeEnvelope[E](payload)
	if err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable message")
		return
	}
	if env.InstanceID == h.instanceID {
		h.selfFiltered.Add(1)
		return
	}

	h.received.Add(1)
	h.registry.Broadcast(key, env.Event, env.Data)
}

// publish sends one event to the distributed channel.
func (h *Hub[E]) publish(key string, event E, data interface{}) {
	if h.shuttingDown.Load() {
		return
	}

	payload, err := encodeEnvelope(event, data, h.instanceID)
	if err != nil {
		h.publishFailures.Add(1)
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.subscribeTimeout)
	defer cancel()

	if err := h.transport.Publish(ctx, h.channelName(key), payload); err != nil {
		h.publishFailures.Add(1)
		h.logger.Error().
			Err(err).
			Str("key", key).
			Str("event", string(event)).
			Msg("Distributed publish failed, local delivery unaffected")
		return
	}
	h.published.Add(1)
}
