package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/marketrelay/internal/metrics"
	"github.com/rickgao/marketrelay/internal/relay"
)

// Config holds transport settings.
type Config struct {
	Addr         string        // Listen address
	SendBuffer   int           // Per-connection send queue length
	WriteTimeout time.Duration // Write deadline per frame
	PongWait     time.Duration // Max time between client pongs
	ReadLimit    int64         // Max client frame size in bytes
	MetricsPath  string        // Empty disables the metrics endpoint
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
		ReadLimit:    4096,
		MetricsPath:  "/metrics",
	}
}

// Engine is the relay surface the transport needs.
type Engine interface {
	NewSession(conn relay.Conn) *relay.Session
	Health() relay.Health
}

// Server accepts client websocket connections.
type Server struct {
	cfg      Config
	engine   Engine
	metrics  *metrics.Metrics
	metricsH http.Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	mu    sync.Mutex
	conns map[*wsConn]struct{}
	wg    sync.WaitGroup
}

// New creates a Server. metricsHandler may be nil.
func New(cfg Config, engine Engine, m *metrics.Metrics, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:      cfg,
		engine:   engine,
		metrics:  m,
		metricsH: metricsHandler,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	if s.metricsH != nil && s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, s.metricsH)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && websocket.IsWebSocketUpgrade(r) {
			s.serveWS(w, r)
			return
		}
		http.NotFound(w, r)
	})
	return cors(mux)
}

// cors allows any origin on every endpoint.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop stops accepting, closes every client connection and waits for the
// pumps to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped")
	case <-ctx.Done():
		s.logger.Warn("server stop timed out")
		return ctx.Err()
	}
	return err
}

// ConnectionCount returns the number of open client connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		relay.Health
		Connections int `json:"connections"`
	}{h, s.ConnectionCount()}); err != nil {
		s.logger.Debug("failed to write health", "error", err)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(uuid.NewString(), ws, s.cfg.SendBuffer)
	session := s.engine.NewSession(c)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnectionOpened()

	s.logger.Debug("client connected", "conn", c.id, "remote", r.RemoteAddr)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump(s.cfg.WriteTimeout, pingPeriod(s.cfg.PongWait))
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c, session)
	}()
}

// readPump feeds client frames to the session until the connection ends,
// then releases the session.
func (s *Server) readPump(c *wsConn, session *relay.Session) {
	defer func() {
		c.close()

		// The request context is gone by now; give the unsubscribes their own.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		session.Close(ctx)
		cancel()

		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.metrics.ConnectionClosed()

		s.logger.Debug("client disconnected", "conn", c.id)
	}()

	if s.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(s.cfg.ReadLimit)
	}
	c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client read error", "conn", c.id, "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PongWait)
		if err := session.HandleMessage(ctx, data); err != nil {
			s.logger.Debug("client request rejected", "conn", c.id, "error", err)
		}
		cancel()
	}
}

// pingPeriod is how often the server pings; it must be shorter than the
// pong wait.
func pingPeriod(pongWait time.Duration) time.Duration {
	p := pongWait * 9 / 10
	if p <= 0 {
		return time.Second
	}
	return p
}
