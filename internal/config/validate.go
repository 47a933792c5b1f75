package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}
	if c.Server.PongWait <= 0 {
		return errors.New("server.pong_wait must be > 0")
	}

	if err := validateURL("upstream.ws_url", c.Upstream.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Upstream.VerifyProducts {
		if err := validateURL("upstream.rest_url", c.Upstream.RestURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Upstream.ConnectTimeout <= 0 {
		return errors.New("upstream.connect_timeout must be > 0")
	}
	if c.Upstream.ReconnectMaxDelay < c.Upstream.ReconnectBaseDelay {
		return fmt.Errorf("upstream.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Upstream.ReconnectMaxDelay, c.Upstream.ReconnectBaseDelay)
	}

	if len(c.Instruments) == 0 {
		return errors.New("instruments must not be empty")
	}
	for i, id := range c.Instruments {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("instruments[%d] is empty", i)
		}
	}

	if c.Orderbook.Depth < 1 {
		return errors.New("orderbook.depth must be >= 1")
	}
	if c.Orderbook.MinUpdateInterval < 0 {
		return errors.New("orderbook.min_update_interval must be >= 0")
	}
	switch c.Orderbook.Ordering {
	case "insertion", "price":
	default:
		return fmt.Errorf("orderbook.ordering must be insertion or price, got %q", c.Orderbook.Ordering)
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Database.CheckpointInterval <= 0 {
			return errors.New("database.checkpoint_interval must be > 0")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, " or "), raw)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
