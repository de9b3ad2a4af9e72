// Package transport abstracts the distributed pub/sub backend that fans
// events out across process instances. Implementations publish opaque
// payloads on named channels and invoke a handler for every payload received;
// they carry no knowledge of event types or subscribers.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("transport closed")
	// ErrSubscribeTimeout is returned when a subscription was not confirmed
	// within the configured timeout.
	ErrSubscribeTimeout = errors.New("transport: subscribe confirmation timed out")
	// ErrChannelClosed is returned when the underlying connection closed
	// before a subscription was confirmed.
	ErrChannelClosed = errors.New("transport: channel closed before confirmation")
)

// Handler receives every payload published on a subscribed channel,
// including payloads published by the same process.
type Handler func(payload []byte)

// Subscription is one live channel subscription.
type Subscription interface {
	// Unsubscribe tears the subscription down. Safe to call once; the
	// handler receives no payloads after it returns.
	Unsubscribe(ctx context.Context) error
}

// Transport is a pub/sub backend connection shared by all channels of a hub.
type Transport interface {
	// Publish sends a payload to every subscriber of the channel, across
	// all instances.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a handler for the channel and blocks until the
	// backend confirms the subscription or ctx expires.
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)

	// Close releases the backend connection. Subscriptions still open are
	// dropped without individual teardown.
	Close() error
}
