package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/marketrelay/internal/model"
)

// Manager owns the single upstream feed connection.
type Manager interface {
	// Start prepares the manager. It does not dial; the first
	// EnsureConnected call does.
	Start(ctx context.Context) error

	// Stop closes the connection and stops reconnection.
	Stop(ctx context.Context) error

	// EnsureConnected dials the feed if no connection is up. Concurrent
	// callers share a single dial. While a reconnect backoff is pending it
	// returns ErrNotConnected instead of dialing.
	EnsureConnected(ctx context.Context) error

	// Subscribe records interest in products and, when connected, sends a
	// subscribe frame. Recorded products are replayed on every reconnect.
	Subscribe(ctx context.Context, products []model.Instrument) error

	// Unsubscribe drops interest in a product and, when connected, sends an
	// unsubscribe frame.
	Unsubscribe(ctx context.Context, product model.Instrument) error

	// Messages returns the channel of raw frames for the Message Router.
	Messages() <-chan RawMessage

	// State returns the current connection state.
	State() State

	// OnStateChange registers a callback invoked after every state
	// transition. It must be set before Start and must not block.
	OnStateChange(fn func(State))

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// ManagerStats provides statistics about the manager.
type ManagerStats struct {
	State         State
	Generation    int      // Successful dials so far
	Reconnects    int64    // Successful dials after a failure
	Subscriptions []string // Desired products, sorted
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	// Output to Message Router
	router chan RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dial singleflight.Group

	// Held while the desired set changes and its frame is written, so
	// upstream frames follow the order of desired-set changes. Taken
	// before mu.
	cmdMu sync.Mutex

	mu           sync.Mutex
	state        State
	client       Client
	generation   int
	reconnecting bool
	reconnects   int64
	desired      map[model.Instrument]struct{}
	onState      func(State)
}

// NewManager creates a new Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}

	return &manager{
		cfg:     cfg,
		logger:  logger,
		router:  make(chan RawMessage, cfg.MessageBufferSize),
		state:   StateDisconnected,
		desired: make(map[model.Instrument]struct{}),
	}
}

// Start prepares the lifecycle context.
func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStopped {
		return ErrStopped
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.logger.Info("connection manager started",
		"url", m.cfg.WSURL,
		"channels", m.cfg.Channels,
	)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	client := m.client
	m.client = nil
	prev := m.state
	m.state = StateStopped
	cb := m.onState
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if client != nil {
		client.Close()
	}
	if cb != nil && prev != StateStopped {
		cb(StateStopped)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(m.router)
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, leaving message channel open")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Messages returns the output channel for the Message Router.
func (m *manager) Messages() <-chan RawMessage {
	return m.router
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers the state transition callback.
func (m *manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		State:         m.state,
		Generation:    m.generation,
		Reconnects:    m.reconnects,
		Subscriptions: m.desiredLocked(),
	}
}

// setState records a transition and notifies the callback outside the lock.
func (m *manager) setState(s State) {
	m.mu.Lock()
	notify := m.transitionLocked(s)
	m.mu.Unlock()
	notify()
}

// transitionLocked sets the state and returns the notification to run once
// m.mu is released. m.mu must be held.
func (m *manager) transitionLocked(s State) func() {
	if m.state == s || m.state == StateStopped {
		return func() {}
	}
	m.state = s
	cb := m.onState
	return func() {
		m.logger.Debug("connection state changed", "state", s)
		if cb != nil {
			cb(s)
		}
	}
}

// EnsureConnected dials the feed once if needed.
func (m *manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	state, started := m.state, m.ctx != nil
	m.mu.Unlock()

	switch {
	case !started:
		return ErrNotStarted
	case state == StateStopped:
		return ErrStopped
	case state == StateConnected:
		return nil
	case state == StateBackoff:
		return fmt.Errorf("%w: reconnect pending", ErrNotConnected)
	}

	ch := m.dial.DoChan("connect", func() (interface{}, error) {
		return nil, m.connect()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect dials, replays desired subscriptions, and starts the read loop.
// Callers go through m.dial so only one attempt is in flight.
func (m *manager) connect() error {
	if m.State() == StateConnected {
		return nil
	}
	m.setState(StateConnecting)

	clientCfg := m.cfg.Client
	clientCfg.URL = m.cfg.WSURL

	dialCtx, cancel := context.WithTimeout(m.ctx, m.cfg.ConnectTimeout)
	defer cancel()

	client := NewClient(clientCfg, m.logger.With("component", "ws_client"))
	if err := client.Connect(dialCtx); err != nil {
		if dialCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		m.logger.Warn("failed to connect upstream", "url", m.cfg.WSURL, "error", err)
		m.enterBackoff()
		return fmt.Errorf("connect upstream: %w", err)
	}

	m.cmdMu.Lock()
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		m.cmdMu.Unlock()
		client.Close()
		return ErrStopped
	}
	m.client = client
	m.generation++
	gen := m.generation
	products := m.desiredLocked()
	notify := m.transitionLocked(StateConnected)
	m.mu.Unlock()

	if len(products) > 0 {
		if err := m.sendCommand(client, CmdSubscribe, products); err != nil {
			m.logger.Warn("failed to replay subscriptions", "products", products, "error", err)
		} else {
			m.logger.Info("replayed subscriptions", "products", products)
		}
	}
	m.cmdMu.Unlock()

	notify()

	m.wg.Add(1)
	go m.readLoop(client, gen)

	m.logger.Info("upstream connected", "url", m.cfg.WSURL, "generation", gen)
	return nil
}

// enterBackoff moves to StateBackoff and starts the reconnect loop unless
// one is already running.
func (m *manager) enterBackoff() {
	m.mu.Lock()
	notify := m.transitionLocked(StateBackoff)
	start := !m.reconnecting && m.state != StateStopped
	if start {
		m.reconnecting = true
		m.wg.Add(1)
	}
	m.mu.Unlock()

	notify()
	if start {
		go m.reconnect()
	}
}

// reconnect retries the dial with exponential backoff and jitter. It only
// exits once the manager is connected or stopping, so a connection that
// drops right after the dial is retried by the same loop.
func (m *manager) reconnect() {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait
	maxWait := m.cfg.ReconnectMaxWait

	for {
		select {
		case <-m.ctx.Done():
			m.stopReconnecting()
			return
		case <-time.After(jitter(wait)):
		}

		m.logger.Info("attempting reconnection", "wait", wait)

		res := <-m.dial.DoChan("connect", func() (interface{}, error) {
			return nil, m.connect()
		})
		if m.ctx.Err() != nil {
			m.stopReconnecting()
			return
		}
		if res.Err == nil {
			m.mu.Lock()
			m.reconnects++
			done := m.state != StateBackoff
			if done {
				m.reconnecting = false
			}
			m.mu.Unlock()

			if done {
				m.logger.Info("reconnected")
				return
			}
			m.logger.Warn("upstream dropped right after reconnect")
		}

		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}

func (m *manager) stopReconnecting() {
	m.mu.Lock()
	m.reconnecting = false
	m.mu.Unlock()
}

// jitter spreads d over [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

// readLoop forwards frames until the connection fails.
func (m *manager) readLoop(client Client, gen int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("upstream connection error", "generation", gen, "error", err)

			m.mu.Lock()
			current := m.client == client
			if current {
				m.client = nil
			}
			m.mu.Unlock()

			client.Close()
			if current {
				m.enterBackoff()
			}
			return

		case msg := <-client.Messages():
			raw := RawMessage{
				Data:       msg.Data,
				ReceivedAt: msg.ReceivedAt,
				Generation: gen,
			}
			select {
			case m.router <- raw:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

// Subscribe records products and sends a subscribe frame when connected.
func (m *manager) Subscribe(ctx context.Context, products []model.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	for _, p := range products {
		m.desired[p] = struct{}{}
	}
	client, connected := m.client, m.state == StateConnected
	m.mu.Unlock()

	if !connected || client == nil {
		m.logger.Debug("subscription deferred until connected", "products", products)
		return nil
	}

	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = string(p)
	}
	return m.sendCommand(client, CmdSubscribe, ids)
}

// Unsubscribe drops a product and sends an unsubscribe frame when connected.
func (m *manager) Unsubscribe(ctx context.Context, product model.Instrument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.Lock()
	delete(m.desired, product)
	client, connected := m.client, m.state == StateConnected
	m.mu.Unlock()

	if !connected || client == nil {
		return nil
	}
	return m.sendCommand(client, CmdUnsubscribe, []string{string(product)})
}

func (m *manager) sendCommand(client Client, cmdType string, productIDs []string) error {
	data, err := json.Marshal(Command{
		Type:       cmdType,
		ProductIDs: productIDs,
		Channels:   m.cfg.Channels,
	})
	if err != nil {
		return err
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", cmdType, err)
	}

	m.logger.Debug("sent command", "type", cmdType, "products", productIDs)
	return nil
}

// desiredLocked returns the desired products sorted. m.mu must be held.
func (m *manager) desiredLocked() []string {
	out := make([]string, 0, len(m.desired))
	for p := range m.desired {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
