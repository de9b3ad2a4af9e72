package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/regtech-io/pulse/pkg/graph"
)

// Stream identifies the kinds of subscription a client can open.
type Stream string

const (
	StreamGraph            Stream = "graph"
	StreamConversation     Stream = "conversation"
	StreamConversationList Stream = "conversation-list"
)

// Wire event names.
const (
	EventAuthChallenge = "auth.challenge"
	EventAuthSuccess   = "auth.success"
	EventAuthFailure   = "auth.failure"
	EventConnectionAck = "connection.ack"
	EventGraphPatch    = "graph.patch"
	EventUnsubscribed  = "unsubscribed"
	EventError         = "error"
	EventShutdown      = "server.shutdown"
)

// Request types accepted from clients.
const (
	RequestAuth        = "auth"
	RequestSubscribe   = "subscribe"
	RequestUnsubscribe = "unsubscribe"
)

// Error codes carried on error events.
const (
	CodeParseError       = "parse_error"
	CodeInvalidRequest   = "invalid_request"
	CodeAuthRequired     = "auth_required"
	CodeRateLimited      = "rate_limited"
	CodeUnknownStream    = "unknown_stream"
	CodeUnknownSub       = "unknown_subscription"
	CodeTooManySubs      = "too_many_subscriptions"
	CodeShuttingDown     = "shutting_down"
	CodeInvalidSignature = "invalid_signature"
)

// ClientRequest is a client-to-server frame.
type ClientRequest struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	// auth
	Signature string `json:"signature,omitempty"`

	// subscribe
	Stream Stream        `json:"stream,omitempty"`
	Filter *graph.Filter `json:"filter,omitempty"`
	Key    string        `json:"key,omitempty"`

	// unsubscribe
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// EventMessage is a server-to-client frame.
type EventMessage struct {
	Type           string      `json:"type"`
	Event          string      `json:"event"`
	Stream         Stream      `json:"stream,omitempty"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	Ref            string      `json:"ref,omitempty"`
	Code           string      `json:"code,omitempty"`
	Message        string      `json:"message,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Seq            int64       `json:"seq,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// AckData is the payload of a connection.ack event.
type AckData struct {
	SubscriptionID string        `json:"subscription_id"`
	Stream         Stream        `json:"stream"`
	Filter         *graph.Filter `json:"filter,omitempty"`
	Key            string        `json:"key,omitempty"`
}

// ClientState tracks where a connection is in its lifecycle.
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

// ClientInfo is a read-only snapshot of a connected client.
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Subscriptions int       `json:"subscriptions"`
	Idle          bool      `json:"idle"`
}

// Client is one WebSocket connection. Writes go through WriteEvent; gorilla
// connections allow a single concurrent writer and events arrive from the
// read loop, the change detector, and the hubs at once.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	AuthAttempts  int
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	State         ClientState

	writeMu sync.Mutex
	subMu   sync.Mutex
	subs    map[string]func()
}

// WriteEvent serializes writes to the underlying connection.
func (c *Client) WriteEvent(msg EventMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(msg)
}

func (c *Client) addSubscription(id string, cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]func())
	}
	c.subs[id] = cancel
}

// removeSubscription detaches one subscription and runs its cancel func.
// It reports whether the subscription existed.
func (c *Client) removeSubscription(id string) bool {
	c.subMu.Lock()
	cancel, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// closeSubscriptions cancels every open subscription. Called once when the
// connection goes away.
func (c *Client) closeSubscriptions() {
	c.subMu.Lock()
	cancels := make([]func(), 0, len(c.subs))
	for _, cancel := range c.subs {
		cancels = append(cancels, cancel)
	}
	c.subs = nil
	c.subMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Client) subscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}
