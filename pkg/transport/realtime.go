package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RealtimeConfig holds settings for the managed realtime backend.
type RealtimeConfig struct {
	// URL is the websocket endpoint of the realtime service.
	URL string
	// Token authenticates the connection, sent as a bearer header.
	Token string
	// SubscribeTimeout bounds how long a channel join may take.
	SubscribeTimeout time.Duration
	Logger           zerolog.Logger
}

// realtimeFrame is the wire format spoken with the realtime service.
type realtimeFrame struct {
	Type    string          `json:"type"` // join, leave, broadcast, ack, error
	Channel string          `json:"channel,omitempty"`
	Ref     int64           `json:"ref,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Realtime is a Transport backed by a managed realtime broadcast service over
// a single multiplexed websocket. The connection is established lazily so a
// backend that is down at startup degrades instead of failing construction.
type Realtime struct {
	cfg    RealtimeConfig
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closed   bool
	nextRef  int64
	pending  map[int64]chan error
	handlers map[string]map[int64]Handler
}

// NewRealtime creates a realtime transport. No network I/O happens until the
// first publish or subscribe.
func NewRealtime(cfg RealtimeConfig) *Realtime {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 5 * time.Second
	}
	return &Realtime{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("transport", "realtime").Logger(),
		pending:  make(map[int64]chan error),
		handlers: make(map[string]map[int64]Handler),
	}
}

// Publish sends a broadcast frame on the channel.
func (r *Realtime) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.ensureConn(ctx); err != nil {
		return err
	}
	return r.writeFrame(realtimeFrame{
		Type:    "broadcast",
		Channel: channel,
		Payload: json.RawMessage(payload),
	})
}

// Subscribe joins the channel and waits for the service's ack. Timing out,
// an error frame, and the connection closing before the ack are distinct
// failures; all leave the transport usable for other channels.
func (r *Realtime) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	if err := r.ensureConn(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextRef++
	ref := r.nextRef
	ack := make(chan error, 1)
	r.pending[ref] = ack
	r.mu.Unlock()

	if err := r.writeFrame(realtimeFrame{Type: "join", Channel: channel, Ref: ref}); err != nil {
		r.dropPending(ref)
		return nil, err
	}

	timer := time.NewTimer(r.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		if err != nil {
			return nil, err
		}
	case <-timer.C:
		r.dropPending(ref)
		return nil, ErrSubscribeTimeout
	case <-ctx.Done():
		r.dropPending(ref)
		return nil, ctx.Err()
	}

	r.mu.Lock()
	if r.handlers[channel] == nil {
		r.handlers[channel] = make(map[int64]Handler)
	}
	r.handlers[channel][ref] = h
	r.mu.Unlock()

	return &realtimeSubscription{transport: r, channel: channel, ref: ref}, nil
}

// Close tears down the websocket and fails every pending join.
func (r *Realtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	for ref, ack := range r.pending {
		ack <- ErrChannelClosed
		delete(r.pending, ref)
	}
	r.handlers = make(map[string]map[int64]Handler)
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (r *Realtime) ensureConn(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.conn != nil {
		return nil
	}

	header := http.Header{}
	if r.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("realtime dial %s: %w", r.cfg.URL, err)
	}
	r.conn = conn

	// A redial after a dropped connection must re-join every channel that
	// still has handlers, or those subscriptions stay silent.
	channels := make([]string, 0, len(r.handlers))
	for channel := range r.handlers {
		channels = append(channels, channel)
	}

	go r.readLoop(conn)
	if len(channels) > 0 {
		go r.rejoinChannels(conn, channels)
	}
	return nil
}

func (r *Realtime) rejoinChannels(conn *websocket.Conn, channels []string) {
	for _, channel := range channels {
		if err := r.rejoin(conn, channel); err != nil {
			r.logger.Error().Err(err).Str("channel", channel).Msg("Channel rejoin failed")
			continue
		}
		r.logger.Info().Str("channel", channel).Msg("Channel rejoined")
	}
}

func (r *Realtime) rejoin(conn *websocket.Conn, channel string) error {
	r.mu.Lock()
	if r.closed || r.conn != conn {
		r.mu.Unlock()
		return ErrChannelClosed
	}
	r.nextRef++
	ref := r.nextRef
	ack := make(chan error, 1)
	r.pending[ref] = ack
	r.mu.Unlock()

	if err := r.writeFrame(realtimeFrame{Type: "join", Channel: channel, Ref: ref}); err != nil {
		r.dropPending(ref)
		return err
	}

	timer := time.NewTimer(r.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-timer.C:
		r.dropPending(ref)
		return ErrSubscribeTimeout
	}
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	for {
		var frame realtimeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			r.handleDisconnect(conn, err)
			return
		}

		switch frame.Type {
		case "ack":
			r.resolvePending(frame.Ref, nil)
		case "error":
			r.resolvePending(frame.Ref, fmt.Errorf("realtime join rejected: %s", frame.Error))
		case "broadcast":
			r.dispatch(frame.Channel, frame.Payload)
		default:
			r.logger.Debug().Str("type", frame.Type).Msg("Ignoring unknown realtime frame")
		}
	}
}

func (r *Realtime) handleDisconnect(conn *websocket.Conn, err error) {
	r.mu.Lock()
	stale := r.conn != conn
	if !stale {
		r.conn = nil
		for ref, ack := range r.pending {
			ack <- ErrChannelClosed
			delete(r.pending, ref)
		}
	}
	closed := r.closed
	r.mu.Unlock()

	if !stale && !closed {
		r.logger.Error().Err(err).Msg("Realtime connection lost")
	}
	_ = conn.Close()
}

func (r *Realtime) dispatch(channel string, payload []byte) {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers[channel]))
	for _, h := range r.handlers[channel] {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (r *Realtime) resolvePending(ref int64, err error) {
	r.mu.Lock()
	ack, ok := r.pending[ref]
	if ok {
		delete(r.pending, ref)
	}
	r.mu.Unlock()

	if ok {
		ack <- err
	}
}

func (r *Realtime) dropPending(ref int64) {
	r.mu.Lock()
	delete(r.pending, ref)
	r.mu.Unlock()
}

func (r *Realtime) writeFrame(frame realtimeFrame) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

type realtimeSubscription struct {
	transport *Realtime
	channel   string
	ref       int64
	once      sync.Once
}

func (s *realtimeSubscription) Unsubscribe(_ context.Context) error {
	var err error
	s.once.Do(func() {
		t := s.transport
		t.mu.Lock()
		if handlers, ok := t.handlers[s.channel]; ok {
			delete(handlers, s.ref)
			if len(handlers) == 0 {
				delete(t.handlers, s.channel)
			}
		}
		t.mu.Unlock()

		err = t.writeFrame(realtimeFrame{Type: "leave", Channel: s.channel, Ref: s.ref})
	})
	return err
}
