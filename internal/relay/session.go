package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rickgao/marketrelay/internal/instrument"
	"github.com/rickgao/marketrelay/internal/model"
)

// Session handles the client protocol for one connection.
type Session struct {
	engine *Engine
	conn   Conn
	closed atomic.Bool
}

// NewSession creates a Session for conn.
func (e *Engine) NewSession(conn Conn) *Session {
	return &Session{engine: e, conn: conn}
}

// Conn returns the session's connection.
func (s *Session) Conn() Conn { return s.conn }

// HandleMessage processes one client frame. Malformed frames and
// unsupported products are answered with an error frame; the returned error
// is for the transport's logs.
func (s *Session) HandleMessage(ctx context.Context, data []byte) error {
	if s.closed.Load() {
		return nil
	}
	logger := s.engine.logger.With("conn", s.conn.ID())

	req, err := DecodeRequest(data)
	if err != nil {
		logger.Warn("malformed client message", "error", err)
		s.engine.metrics.Rejected("malformed")
		s.engine.sendTo(s.conn, model.OutboundMessage{
			Type:    model.TypeError,
			Message: "malformed message",
		})
		return err
	}

	switch req := req.(type) {
	case SubscribeRequest:
		err = s.engine.Subscribe(ctx, req.Product, s.conn)
		s.reject(req.Product, err)
	case UnsubscribeRequest:
		err = s.engine.Unsubscribe(ctx, req.Product, s.conn)
		s.reject(req.Product, err)
	case UnknownRequest:
		logger.Info("ignoring unknown message type", "type", req.Type)
	}
	return err
}

// reject answers a failed request with an error frame.
func (s *Session) reject(product string, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if errors.Is(err, instrument.ErrUnsupported) {
		msg = "unsupported product"
	}
	s.engine.sendTo(s.conn, model.OutboundMessage{
		Type:    model.TypeError,
		Product: model.Instrument(product),
		Message: msg,
	})
}

// Close releases the connection from every instrument. It is safe to call
// more than once.
func (s *Session) Close(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	for _, inst := range s.engine.instruments.All() {
		s.engine.unsubscribe(ctx, inst, s.conn)
	}
}
