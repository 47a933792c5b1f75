package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNotStarted      = errors.New("manager not started")
	ErrStopped         = errors.New("manager stopped")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from the Manager to the Message Router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when the client received the message
	Generation int       // Connection attempt that produced the message (1 = first dial)
}

// Command is a control frame sent to the feed.
type Command struct {
	Type       string   `json:"type"` // "subscribe" or "unsubscribe"
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// Command types
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// DefaultChannels are the feed channels requested for every product.
var DefaultChannels = []string{"ticker", "level2_batch"}

// State is the connection state of the Manager.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
	StateStopped      State = "stopped"
)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://ws-feed.exchange.coinbase.com)
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	WSURL             string        // Feed URL
	Channels          []string      // Channels requested per product
	ConnectTimeout    time.Duration // Bound on a single dial attempt
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	MessageBufferSize int           // Buffer size for output message channel
	Client            ClientConfig  // Per-connection settings; URL is taken from WSURL
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:             "wss://ws-feed.exchange.coinbase.com",
		Channels:          DefaultChannels,
		ConnectTimeout:    10 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		MessageBufferSize: 10000,
		Client:            DefaultClientConfig(),
	}
}
