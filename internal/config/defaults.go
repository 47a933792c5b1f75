package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr         = ":8080"
	DefaultSendBuffer         = 256
	DefaultServerWriteTimeout = 10 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultWSURL              = "wss://ws-feed.exchange.coinbase.com"
	DefaultRestURL            = "https://api.exchange.coinbase.com"
	DefaultConnectTimeout     = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPingTimeout        = 90 * time.Second
	DefaultUpstreamWriteTime  = 5 * time.Second
	DefaultDepth              = 10
	DefaultMinUpdateInterval  = 8 * time.Second
	DefaultOrdering           = "insertion"
	DefaultCheckpointInterval = 30 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// DefaultChannels are the upstream channels requested per product.
var DefaultChannels = []string{"ticker", "level2_batch"}

// DefaultInstruments is the reference allow-list.
var DefaultInstruments = []string{"BTC-USD", "ETH-USD", "LTC-USD"}

func (c *RelayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = DefaultPongWait
	}

	// Upstream defaults
	if c.Upstream.WSURL == "" {
		c.Upstream.WSURL = DefaultWSURL
	}
	if c.Upstream.RestURL == "" {
		c.Upstream.RestURL = DefaultRestURL
	}
	if len(c.Upstream.Channels) == 0 {
		c.Upstream.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Upstream.ConnectTimeout == 0 {
		c.Upstream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.ReconnectMaxDelay == 0 {
		c.Upstream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = DefaultPingInterval
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultPingTimeout
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultUpstreamWriteTime
	}

	if len(c.Instruments) == 0 {
		c.Instruments = append([]string(nil), DefaultInstruments...)
	}

	// Orderbook defaults
	if c.Orderbook.Depth == 0 {
		c.Orderbook.Depth = DefaultDepth
	}
	if c.Orderbook.MinUpdateInterval == 0 {
		c.Orderbook.MinUpdateInterval = DefaultMinUpdateInterval
	}
	if c.Orderbook.Ordering == "" {
		c.Orderbook.Ordering = DefaultOrdering
	}

	// Database defaults
	if c.Database.CheckpointInterval == 0 {
		c.Database.CheckpointInterval = DefaultCheckpointInterval
	}
	applyDBDefaults(&c.Database.Postgres)

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
