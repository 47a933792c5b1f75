package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Server      ServerConfig    `yaml:"server"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Instruments []string        `yaml:"instruments"`
	Orderbook   OrderbookConfig `yaml:"orderbook"`
	Database    DatabaseConfig  `yaml:"database"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Log         LogConfig       `yaml:"log"`
}

// ServerConfig holds client-facing websocket settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	SendBuffer   int           `yaml:"send_buffer"` // Frames queued per client before it is dropped
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PongWait     time.Duration `yaml:"pong_wait"`
}

// UpstreamConfig holds exchange feed settings.
type UpstreamConfig struct {
	WSURL              string        `yaml:"ws_url"`
	RestURL            string        `yaml:"rest_url"`
	Channels           []string      `yaml:"channels"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	VerifyProducts     bool          `yaml:"verify_products"` // Check products against the REST API at startup
}

// OrderbookConfig holds order-book aggregation settings.
type OrderbookConfig struct {
	Depth             int           `yaml:"depth"`
	MinUpdateInterval time.Duration `yaml:"min_update_interval"`
	Ordering          string        `yaml:"ordering"` // "insertion" or "price"
	DropEmptyLevels   bool          `yaml:"drop_empty_levels"`
}

// DatabaseConfig holds the optional latest-state checkpoint store.
type DatabaseConfig struct {
	Enabled            bool          `yaml:"enabled"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	Postgres           DBConfig      `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
