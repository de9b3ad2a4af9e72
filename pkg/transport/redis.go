package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds broker connection settings.
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	SubscribeTimeout time.Duration
	Logger           zerolog.Logger
}

// Redis is a Transport backed by Redis pub/sub. One client connection is
// shared for publishing; each channel subscription holds its own PubSub
// because go-redis dedicates a connection per subscriber.
type Redis struct {
	client           *redis.Client
	subscribeTimeout time.Duration
	logger           zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewRedis connects to the broker. The connection is verified lazily; a
// broker that is down at construction time degrades rather than fails.
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Redis{
		client:           client,
		subscribeTimeout: cfg.SubscribeTimeout,
		logger:           cfg.Logger.With().Str("transport", "redis").Logger(),
	}
}

// Publish sends the payload on the channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()

	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for the channel and waits
// for the broker's subscription confirmation within the configured timeout.
func (r *Redis) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, channel)

	// Receive returns the *redis.Subscription confirmation before any
	// message is delivered over the Channel() stream.
	confirmCtx, cancel := context.WithTimeout(ctx, r.subscribeTimeout)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		_ = pubsub.Close()
		if confirmCtx.Err() != nil {
			return nil, ErrSubscribeTimeout
		}
		return nil, fmt.Errorf("redis subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.receiveLoop(channel, h, r.logger)

	return sub, nil
}

// Close releases the shared client. Per-channel PubSub connections are closed
// by their own subscriptions.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
}

func (s *redisSubscription) receiveLoop(channel string, h Handler, logger zerolog.Logger) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Debug().Str("channel", channel).Msg("Subscription stream closed")
				return
			}
			h([]byte(msg.Payload))
		}
	}
}

func (s *redisSubscription) Unsubscribe(_ context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
