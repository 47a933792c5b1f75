package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketrelay/internal/connection"
	"github.com/rickgao/marketrelay/internal/metrics"
)

// Handler consumes decoded market-data events. Calls are made from a
// single goroutine in arrival order.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// Router decodes raw upstream frames and dispatches market-data events.
type Router interface {
	// Start begins routing messages from the input channel to the handler.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	ControlMessages  int64
	UnknownMessages  int64
	Queue            BufferStats
}

// router is the internal implementation.
type router struct {
	cfg     RouterConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from Connection Manager
	input <-chan connection.RawMessage

	// Decoded events waiting for the handler
	queue   *GrowableBuffer[Event]
	handler Handler

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received    atomic.Int64
	routed      atomic.Int64
	parseErrors atomic.Int64
	control     atomic.Int64
	unknown     atomic.Int64
}

// NewRouter creates a new Message Router.
func NewRouter(cfg RouterConfig, input <-chan connection.RawMessage, handler Handler, m *metrics.Metrics, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		input:   input,
		queue:   NewGrowableBuffer[Event](cfg.QueueSize),
		handler: handler,
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.decodeLoop()
	go r.dispatchLoop()

	r.logger.Info("message router started", "queue_size", r.cfg.QueueSize)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	return nil
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		ControlMessages:  r.control.Load(),
		UnknownMessages:  r.unknown.Load(),
		Queue:            r.queue.Stats(),
	}
}

// decodeLoop decodes frames into the queue until the input ends.
func (r *router) decodeLoop() {
	defer r.wg.Done()
	defer r.queue.Close()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(raw)
		}
	}
}

// dispatchLoop hands queued events to the handler one at a time.
func (r *router) dispatchLoop() {
	defer r.wg.Done()

	for {
		ev, ok := r.queue.Pop()
		if !ok {
			return
		}
		r.handler.HandleEvent(ev)
	}
}

// route decodes a single frame and queues it if it carries market data.
func (r *router) route(raw connection.RawMessage) {
	r.received.Add(1)

	ev, err := Decode(raw.Data, raw.ReceivedAt)
	if err != nil {
		r.parseErrors.Add(1)
		r.metrics.DecodeError()
		r.logger.Warn("failed to decode upstream frame", "error", err, "size", len(raw.Data))
		return
	}
	r.metrics.FrameDecoded(ev.FrameType())

	switch e := ev.(type) {
	case TickerEvent, SnapshotEvent, UpdateEvent:
		if r.queue.Push(ev) {
			r.routed.Add(1)
		}

	case ControlEvent:
		r.control.Add(1)
		switch e.Type {
		case FrameError:
			r.logger.Warn("upstream error", "message", e.Message, "reason", e.Reason)
		case FrameSubscriptions:
			r.logger.Debug("upstream subscriptions", "frame", string(e.Raw))
		}

	case UnknownEvent:
		r.unknown.Add(1)
		r.logger.Debug("skipping message type", "type", e.Type)
	}
}
