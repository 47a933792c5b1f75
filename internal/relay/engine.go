package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketrelay/internal/cache"
	"github.com/rickgao/marketrelay/internal/connection"
	"github.com/rickgao/marketrelay/internal/instrument"
	"github.com/rickgao/marketrelay/internal/metrics"
	"github.com/rickgao/marketrelay/internal/model"
	"github.com/rickgao/marketrelay/internal/orderbook"
	"github.com/rickgao/marketrelay/internal/router"
	"github.com/rickgao/marketrelay/internal/subscription"
)

// Conn is a client connection owned by the transport.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// Send queues payload for delivery. It must not block.
	Send(payload []byte) error
}

// Upstream is the part of the feed connector the engine drives.
// connection.Manager implements it.
type Upstream interface {
	EnsureConnected(ctx context.Context) error
	Subscribe(ctx context.Context, products []model.Instrument) error
	Unsubscribe(ctx context.Context, product model.Instrument) error
	State() connection.State
}

// Health is a point-in-time summary for the health endpoint.
type Health struct {
	Upstream    string         `json:"upstream"`
	Subscribers map[string]int `json:"subscribers"`
}

// Engine is the relay core.
type Engine struct {
	instruments *instrument.Registry
	upstream    Upstream
	subs        *subscription.Registry[Conn]
	tickers     *cache.Store[model.Instrument, json.RawMessage]
	books       *orderbook.Aggregator
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// One lock per allow-listed instrument. The map is never written after
	// construction.
	locks map[model.Instrument]*sync.Mutex

	stateMu   sync.Mutex
	lastState connection.State
}

// NewEngine creates an Engine for the allow-listed instruments.
func NewEngine(instruments *instrument.Registry, upstream Upstream, books *orderbook.Aggregator, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	locks := make(map[model.Instrument]*sync.Mutex)
	for _, inst := range instruments.All() {
		locks[inst] = &sync.Mutex{}
	}

	return &Engine{
		instruments: instruments,
		upstream:    upstream,
		subs:        subscription.New[Conn](),
		tickers:     cache.New[model.Instrument, json.RawMessage](),
		books:       books,
		metrics:     m,
		logger:      logger,
		locks:       locks,
	}
}

// lock acquires the instrument lock and returns its release.
func (e *Engine) lock(inst model.Instrument) func() {
	mu := e.locks[inst]
	mu.Lock()
	return mu.Unlock
}

// Subscribe registers conn for the product id, makes sure the upstream feed
// carries it, and replays cached state to conn alone. An unsupported id
// returns instrument.ErrUnsupported and changes nothing.
func (e *Engine) Subscribe(ctx context.Context, id string, conn Conn) error {
	inst, err := e.instruments.Lookup(id)
	if err != nil {
		e.metrics.Rejected("unsupported")
		return err
	}

	connErr := e.upstream.EnsureConnected(ctx)

	unlock := e.lock(inst)
	defer unlock()

	e.subs.AddClient(inst, conn)
	e.metrics.SetSubscribers(string(inst), e.subs.Count(inst))

	// Recorded even when disconnected; replayed on connect.
	if err := e.upstream.Subscribe(ctx, []model.Instrument{inst}); err != nil {
		e.logger.Warn("upstream subscribe failed", "product", inst, "error", err)
	}

	if connErr != nil {
		e.logger.Warn("upstream not connected, subscription pending",
			"product", inst,
			"conn", conn.ID(),
			"error", connErr,
		)
		e.sendTo(conn, model.OutboundMessage{
			Type: model.TypeStatus,
			Data: model.StatusData{Upstream: string(e.upstream.State())},
		})
	}

	e.replay(inst, conn)

	e.logger.Debug("client subscribed", "product", inst, "conn", conn.ID())
	return nil
}

// replay sends the cached ticker and then the book view to conn.
// The instrument lock must be held.
func (e *Engine) replay(inst model.Instrument, conn Conn) {
	if tick, ok := e.tickers.Get(inst); ok {
		e.sendTo(conn, model.TickerUpdate(tick))
	}
	if view, ok := e.books.View(inst); ok {
		e.sendTo(conn, model.Level2Update(view))
	}
}

// Unsubscribe removes conn from the product id. The upstream subscription
// is dropped when the last connection leaves.
func (e *Engine) Unsubscribe(ctx context.Context, id string, conn Conn) error {
	inst, err := e.instruments.Lookup(id)
	if err != nil {
		e.metrics.Rejected("unsupported")
		return err
	}
	e.unsubscribe(ctx, inst, conn)
	return nil
}

func (e *Engine) unsubscribe(ctx context.Context, inst model.Instrument, conn Conn) {
	unlock := e.lock(inst)
	defer unlock()

	removed, remaining := e.subs.RemoveClient(inst, conn)
	if !removed {
		return
	}
	e.metrics.SetSubscribers(string(inst), remaining)
	e.logger.Debug("client unsubscribed", "product", inst, "conn", conn.ID(), "remaining", remaining)

	if remaining > 0 {
		return
	}
	if err := e.upstream.Unsubscribe(ctx, inst); err != nil {
		e.logger.Warn("upstream unsubscribe failed", "product", inst, "error", err)
		return
	}
	e.logger.Info("last subscriber left, upstream unsubscribed", "product", inst)
}

// HandleEvent applies one upstream event and broadcasts the result.
// It implements router.Handler.
func (e *Engine) HandleEvent(ev router.Event) {
	switch ev := ev.(type) {
	case router.TickerEvent:
		e.handleTicker(ev)
	case router.SnapshotEvent:
		e.handleSnapshot(ev)
	case router.UpdateEvent:
		e.handleUpdate(ev)
	default:
		e.logger.Debug("ignoring upstream event", "type", ev.FrameType())
	}
}

func (e *Engine) handleTicker(ev router.TickerEvent) {
	inst, err := e.instruments.Lookup(string(ev.Product))
	if err != nil {
		e.logger.Debug("dropping ticker for unsupported product", "product", ev.Product)
		return
	}

	unlock := e.lock(inst)
	defer unlock()

	e.tickers.Set(inst, ev.Raw)
	e.Broadcast(inst, model.TickerUpdate(ev.Raw))
}

func (e *Engine) handleSnapshot(ev router.SnapshotEvent) {
	inst, err := e.instruments.Lookup(string(ev.Product))
	if err != nil {
		e.logger.Debug("dropping snapshot for unsupported product", "product", ev.Product)
		return
	}

	unlock := e.lock(inst)
	defer unlock()

	view := e.books.Snapshot(inst, ev.Bids, ev.Asks, ev.Time)
	e.Broadcast(inst, model.Level2Update(view))
}

func (e *Engine) handleUpdate(ev router.UpdateEvent) {
	inst, err := e.instruments.Lookup(string(ev.Product))
	if err != nil {
		e.logger.Debug("dropping update for unsupported product", "product", ev.Product)
		return
	}

	unlock := e.lock(inst)
	defer unlock()

	view, applied, err := e.books.Update(inst, ev.Changes, ev.Time)
	switch {
	case errors.Is(err, orderbook.ErrNotReady):
		e.logger.Warn("no order book for update", "product", inst)
	case err != nil:
		e.logger.Warn("failed to apply update", "product", inst, "error", err)
	case !applied:
		e.metrics.UpdateDiscarded(string(inst))
	default:
		e.Broadcast(inst, model.Level2Update(view))
	}
}

// UpstreamStateChanged pushes a status frame to every subscribed connection
// when the upstream becomes connected or starts backing off. Repeated
// reports of the same state are suppressed.
func (e *Engine) UpstreamStateChanged(state connection.State) {
	e.metrics.SetUpstreamState(string(state))

	if state != connection.StateConnected && state != connection.StateBackoff {
		return
	}

	e.stateMu.Lock()
	if state == e.lastState {
		e.stateMu.Unlock()
		return
	}
	prev := e.lastState
	e.lastState = state
	e.stateMu.Unlock()

	// The first connect is not news to anyone.
	if prev == "" && state == connection.StateConnected {
		return
	}
	if prev == connection.StateBackoff && state == connection.StateConnected {
		e.metrics.Reconnected()
	}

	msg := model.OutboundMessage{
		Type: model.TypeStatus,
		Data: model.StatusData{Upstream: string(state)},
	}

	seen := make(map[Conn]struct{})
	for _, inst := range e.instruments.All() {
		for _, c := range e.subs.ClientsFor(inst) {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			e.sendTo(c, msg)
		}
	}

	e.logger.Info("upstream state pushed to clients", "state", state, "clients", len(seen))
}

// LatestState returns the cached ticker and book of every instrument that
// has any.
func (e *Engine) LatestState() []model.InstrumentState {
	var out []model.InstrumentState
	for _, inst := range e.instruments.All() {
		unlock := e.lock(inst)
		st := model.InstrumentState{Product: inst}
		if tick, ok := e.tickers.Get(inst); ok {
			st.Ticker = tick
		}
		if view, ok := e.books.View(inst); ok {
			st.Book = &view
			st.BookUpdatedAt, _ = e.books.UpdatedAt(inst)
		}
		unlock()

		if st.Ticker != nil || st.Book != nil {
			out = append(out, st)
		}
	}
	return out
}

// Restore seeds the caches from a checkpoint. Unsupported products are
// skipped.
func (e *Engine) Restore(states []model.InstrumentState) int {
	restored := 0
	for _, st := range states {
		inst, err := e.instruments.Lookup(string(st.Product))
		if err != nil {
			e.logger.Debug("skipping checkpoint for unsupported product", "product", st.Product)
			continue
		}

		unlock := e.lock(inst)
		if st.Ticker != nil {
			e.tickers.Set(inst, st.Ticker)
		}
		if st.Book != nil {
			view := *st.Book
			view.ProductID = inst
			at := st.BookUpdatedAt
			if at.IsZero() {
				at = time.Now()
			}
			e.books.Restore(inst, view, at)
		}
		unlock()
		restored++
	}
	return restored
}

// Health returns the upstream state and subscriber counts.
func (e *Engine) Health() Health {
	h := Health{
		Upstream:    string(e.upstream.State()),
		Subscribers: make(map[string]int),
	}
	for _, inst := range e.instruments.All() {
		h.Subscribers[string(inst)] = e.subs.Count(inst)
	}
	return h
}
