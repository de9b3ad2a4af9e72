package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/regtech-io/pulse/pkg/detector"
	"github.com/regtech-io/pulse/pkg/failover"
	"github.com/regtech-io/pulse/pkg/graph"
	"github.com/regtech-io/pulse/pkg/pubsub"
)

// Server is the WebSocket edge of the update layer. Clients authenticate
// with a challenge-response handshake, then open subscriptions against the
// change detector (graph stream) or the distributed hubs (conversation
// streams). Each subscription fans events out to the owning connection until
// the client unsubscribes or disconnects.
type Server struct {
	port         int
	sharedSecret string
	tickInterval time.Duration
	maxSubs      int

	server      *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	authHandler *AuthHandler

	changes  *detector.Detector
	convHub  *pubsub.Hub[pubsub.ConversationEvent]
	listHub  *pubsub.Hub[pubsub.ConversationListEvent]
	limiter  *failover.RateLimiter
	cache    *failover.Cache
	cacheTTL time.Duration
	metrics  http.Handler

	logger zerolog.Logger
	seq    atomic.Int64

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Port         int
	SharedSecret string
	// TickInterval spaces the heartbeat events sent to authenticated
	// clients. Defaults to 30s.
	TickInterval time.Duration
	// MaxSubscriptionsPerClient caps open subscriptions per connection.
	// Defaults to 32.
	MaxSubscriptionsPerClient int

	Detector            *detector.Detector
	ConversationHub     *pubsub.Hub[pubsub.ConversationEvent]
	ConversationListHub *pubsub.Hub[pubsub.ConversationListEvent]
	// Limiter bounds subscribe churn per client. Optional.
	Limiter *failover.RateLimiter
	// Cache keeps the last emitted patch per filter so a fresh graph
	// subscriber catches up immediately instead of waiting out a full poll
	// cycle. Optional.
	Cache *failover.Cache
	// CacheTTL bounds how stale a replayed patch may be. Defaults to 5m.
	CacheTTL time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	Logger zerolog.Logger
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("change detector is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.MaxSubscriptionsPerClient <= 0 {
		cfg.MaxSubscriptionsPerClient = 32
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	s := &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		tickInterval: cfg.TickInterval,
		maxSubs:      cfg.MaxSubscriptionsPerClient,
		clients:      NewClientRegistry(),
		authHandler:  NewAuthHandler(cfg.SharedSecret),
		changes:      cfg.Detector,
		convHub:      cfg.ConversationHub,
		listHub:      cfg.ConversationListHub,
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		cacheTTL:     cfg.CacheTTL,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	return s, nil
}

// Start starts the gateway server.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	// Bind before returning so callers see port conflicts here, not in a
	// goroutine log line later.
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	s.startTickEmitter()

	return nil
}

// Stop gracefully stops the gateway server.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTickEmitter()

	s.broadcast(EventMessage{
		Event:   EventShutdown,
		Message: "server is shutting down",
	})

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// Snapshot returns information about all connected clients.
func (s *Server) Snapshot() []ClientInfo {
	return s.clients.Snapshot()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

func (s *Server) startTickEmitter() {
	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.broadcast(EventMessage{
					Event: "tick",
					Data:  map[string]interface{}{"status": "alive"},
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

// broadcast sends an event to every authenticated client.
func (s *Server) broadcast(msg EventMessage) {
	msg.Type = "event"
	msg.Seq = s.seq.Add(1)
	msg.Timestamp = time.Now().UnixMilli()

	for _, client := range s.clients.GetAll() {
		if !client.Authenticated {
			continue
		}
		if err := client.WriteEvent(msg); err != nil {
			s.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Msg("Failed to broadcast to client")
		}
	}
}

// handleWebSocket handles WebSocket connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		State:        StateConnecting,
	}

	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.sendAuthChallenge(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth challenge")
		conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// sendAuthChallenge sends an authentication challenge to a client.
func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	client.Challenge = challenge
	client.State = StateAuthenticating

	return client.WriteEvent(EventMessage{
		Type:      "event",
		Event:     EventAuthChallenge,
		Message:   challenge,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleClient reads frames from a client until the connection drops.
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			break
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// handleMessage dispatches a single frame from a client.
func (s *Server) handleMessage(client *Client, message []byte) {
	var req ClientRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.sendError(client, "", CodeParseError, err.Error())
		return
	}

	if req.Type == RequestAuth {
		s.handleAuth(client, req)
		return
	}

	if !client.Authenticated {
		s.sendError(client, req.Ref, CodeAuthRequired, "authentication required")
		return
	}

	switch req.Type {
	case RequestSubscribe:
		s.handleSubscribe(client, req, message)
	case RequestUnsubscribe:
		s.handleUnsubscribe(client, req)
	default:
		s.sendError(client, req.Ref, CodeInvalidRequest, fmt.Sprintf("unknown request type %q", req.Type))
	}
}

// handleAuth verifies a challenge signature and drops the connection once the
// attempt budget is spent.
func (s *Server) handleAuth(client *Client, req ClientRequest) {
	result := s.authHandler.HandleAuthResponse(client, req.Signature)

	event := EventAuthSuccess
	if !result.Success {
		event = EventAuthFailure
	}
	if err := client.WriteEvent(EventMessage{
		Type:      "event",
		Event:     event,
		Ref:       req.Ref,
		Message:   result.Message,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return
	}

	if result.Success {
		s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
		return
	}

	s.logger.Warn().
		Str("clientId", client.ID).
		Str("reason", result.Message).
		Msg("Authentication failed")

	if result.Blocked {
		client.Conn.Close()
	}
}

// handleSubscribe validates and opens one subscription.
func (s *Server) handleSubscribe(client *Client, req ClientRequest, raw []byte) {
	if s.limiter != nil && !s.limiter.Allow(context.Background(), "gw:sub:"+client.ID) {
		s.sendError(client, req.Ref, CodeRateLimited, "subscribe rate limit exceeded")
		return
	}

	if err := validateSubscribe(raw); err != nil {
		s.sendError(client, req.Ref, CodeInvalidRequest, err.Error())
		return
	}

	if client.subscriptionCount() >= s.maxSubs {
		s.sendError(client, req.Ref, CodeTooManySubs,
			fmt.Sprintf("subscription limit of %d reached", s.maxSubs))
		return
	}

	subID, _ := gonanoid.New()

	ack := AckData{SubscriptionID: subID, Stream: req.Stream}
	var cancel func()

	switch req.Stream {
	case StreamGraph:
		var raw graph.Filter
		if req.Filter != nil {
			raw = *req.Filter
		}
		filter := raw.Normalize()
		ack.Filter = &filter
		filterKey := filter.Key()
		cancel = s.changes.Subscribe(filter, func(patch *graph.Patch) {
			s.cachePatch(filterKey, patch)
			s.sendEvent(client, EventMessage{
				Event:          EventGraphPatch,
				Stream:         StreamGraph,
				SubscriptionID: subID,
				Data:           patch,
			})
		})

	case StreamConversation:
		if s.convHub == nil {
			s.sendError(client, req.Ref, CodeUnknownStream, "conversation stream is not enabled")
			return
		}
		ack.Key = req.Key
		cancel = s.convHub.Subscribe(req.Key, &pubsub.SubscriberFuncs[pubsub.ConversationEvent]{
			SendFunc: func(event pubsub.ConversationEvent, data interface{}) {
				s.sendEvent(client, EventMessage{
					Event:          string(event),
					Stream:         StreamConversation,
					SubscriptionID: subID,
					Data:           data,
				})
			},
		})

	case StreamConversationList:
		if s.listHub == nil {
			s.sendError(client, req.Ref, CodeUnknownStream, "conversation-list stream is not enabled")
			return
		}
		ack.Key = req.Key
		cancel = s.listHub.Subscribe(req.Key, &pubsub.SubscriberFuncs[pubsub.ConversationListEvent]{
			SendFunc: func(event pubsub.ConversationListEvent, data interface{}) {
				s.sendEvent(client, EventMessage{
					Event:          string(event),
					Stream:         StreamConversationList,
					SubscriptionID: subID,
					Data:           data,
				})
			},
		})

	default:
		s.sendError(client, req.Ref, CodeUnknownStream, fmt.Sprintf("unknown stream %q", req.Stream))
		return
	}

	client.addSubscription(subID, cancel)

	s.logger.Debug().
		Str("clientId", client.ID).
		Str("subscriptionId", subID).
		Str("stream", string(req.Stream)).
		Msg("Subscription opened")

	s.sendEvent(client, EventMessage{
		Event:          EventConnectionAck,
		Stream:         req.Stream,
		SubscriptionID: subID,
		Ref:            req.Ref,
		Data:           ack,
	})

	if req.Stream == StreamGraph {
		s.replayCachedPatch(client, subID, ack.Filter.Key())
	}
}

// cachePatch stores the latest emitted patch for a filter key.
func (s *Server) cachePatch(filterKey string, patch *graph.Patch) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(patch)
	if err != nil {
		s.logger.Warn().Err(err).Str("filter", filterKey).Msg("Failed to cache patch")
		return
	}
	s.cache.Set(context.Background(), patchCacheKey(filterKey), string(data), s.cacheTTL)
}

// replayCachedPatch sends the last cached patch for the filter to a freshly
// subscribed client, right after its ack.
func (s *Server) replayCachedPatch(client *Client, subID, filterKey string) {
	if s.cache == nil {
		return
	}
	raw, ok := s.cache.Get(context.Background(), patchCacheKey(filterKey))
	if !ok {
		return
	}

	var patch graph.Patch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		s.logger.Warn().Err(err).Str("filter", filterKey).Msg("Dropping undecodable cached patch")
		return
	}
	s.sendEvent(client, EventMessage{
		Event:          EventGraphPatch,
		Stream:         StreamGraph,
		SubscriptionID: subID,
		Data:           &patch,
	})
}

func patchCacheKey(filterKey string) string {
	return "gw:patch:" + filterKey
}

// handleUnsubscribe closes one subscription.
func (s *Server) handleUnsubscribe(client *Client, req ClientRequest) {
	if !client.removeSubscription(req.SubscriptionID) {
		s.sendError(client, req.Ref, CodeUnknownSub,
			fmt.Sprintf("unknown subscription %q", req.SubscriptionID))
		return
	}

	s.logger.Debug().
		Str("clientId", client.ID).
		Str("subscriptionId", req.SubscriptionID).
		Msg("Subscription closed")

	s.sendEvent(client, EventMessage{
		Event:          EventUnsubscribed,
		SubscriptionID: req.SubscriptionID,
		Ref:            req.Ref,
	})
}

// sendEvent stamps and writes one event to a client.
func (s *Server) sendEvent(client *Client, msg EventMessage) {
	msg.Type = "event"
	msg.Seq = s.seq.Add(1)
	msg.Timestamp = time.Now().UnixMilli()

	if err := client.WriteEvent(msg); err != nil {
		s.logger.Warn().
			Err(err).
			Str("clientId", client.ID).
			Str("event", msg.Event).
			Msg("Failed to send event")
	}
}

// sendError sends an error event to a client.
func (s *Server) sendError(client *Client, ref, code, message string) {
	if err := client.WriteEvent(EventMessage{
		Type:      "event",
		Event:     EventError,
		Ref:       ref,
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}
