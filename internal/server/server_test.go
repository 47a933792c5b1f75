package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketrelay/internal/connection"
	"github.com/rickgao/marketrelay/internal/instrument"
	"github.com/rickgao/marketrelay/internal/model"
	"github.com/rickgao/marketrelay/internal/orderbook"
	"github.com/rickgao/marketrelay/internal/relay"
	"github.com/rickgao/marketrelay/internal/router"
)

// stubUpstream is an always-connected upstream.
type stubUpstream struct{}

func (stubUpstream) EnsureConnected(ctx context.Context) error                 { return nil }
func (stubUpstream) Subscribe(ctx context.Context, p []model.Instrument) error { return nil }
func (stubUpstream) Unsubscribe(ctx context.Context, p model.Instrument) error { return nil }
func (stubUpstream) State() connection.State                                   { return connection.StateConnected }

func newTestServer(t *testing.T) (*relay.Engine, *Server, *httptest.Server) {
	t.Helper()
	reg, err := instrument.New(instrument.DefaultInstruments)
	if err != nil {
		t.Fatalf("instrument.New: %v", err)
	}
	engine := relay.NewEngine(reg, stubUpstream{}, orderbook.NewAggregator(orderbook.DefaultConfig()), nil, nil)

	cfg := DefaultConfig()
	cfg.WriteTimeout = time.Second
	srv := New(cfg, engine, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("metrics"))
	}), nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return engine, srv, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_SubscribeAndReceiveBroadcast(t *testing.T) {
	engine, _, ts := newTestServer(t)
	ws := dial(t, ts, "/ws")

	if err := ws.WriteJSON(map[string]string{"type": "subscribe", "product": "BTC-USD"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return engine.Health().Subscribers["BTC-USD"] == 1 })

	engine.HandleEvent(router.TickerEvent{
		Product: "BTC-USD",
		Raw:     json.RawMessage(`{"type":"ticker","product_id":"BTC-USD","price":"100"}`),
	})

	m := readMessage(t, ws)
	if string(m["type"]) != `"tickerUpdate"` {
		t.Errorf("type = %s, want tickerUpdate", m["type"])
	}
	if string(m["data"]) != `{"type":"ticker","product_id":"BTC-USD","price":"100"}` {
		t.Errorf("data = %s", m["data"])
	}
}

func TestServer_RootPathUpgrades(t *testing.T) {
	engine, _, ts := newTestServer(t)
	ws := dial(t, ts, "/")

	ws.WriteJSON(map[string]string{"type": "subscribe", "product": "ETH-USD"})
	waitFor(t, func() bool { return engine.Health().Subscribers["ETH-USD"] == 1 })
}

func TestServer_UnsupportedProductErrorFrame(t *testing.T) {
	_, _, ts := newTestServer(t)
	ws := dial(t, ts, "/ws")

	ws.WriteJSON(map[string]string{"type": "subscribe", "product": "DOGE-USD"})

	m := readMessage(t, ws)
	if string(m["type"]) != `"error"` {
		t.Errorf("type = %s, want error", m["type"])
	}
	if string(m["product"]) != `"DOGE-USD"` {
		t.Errorf("product = %s, want DOGE-USD", m["product"])
	}
}

func TestServer_DisconnectReleasesSubscriptions(t *testing.T) {
	engine, srv, ts := newTestServer(t)
	ws := dial(t, ts, "/ws")

	ws.WriteJSON(map[string]string{"type": "subscribe", "product": "LTC-USD"})
	waitFor(t, func() bool { return engine.Health().Subscribers["LTC-USD"] == 1 })

	ws.Close()

	waitFor(t, func() bool { return engine.Health().Subscribers["LTC-USD"] == 0 })
	waitFor(t, func() bool { return srv.ConnectionCount() == 0 })
}

func TestServer_HealthAndCORS(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want *", got)
	}

	var body struct {
		Upstream    string         `json:"upstream"`
		Subscribers map[string]int `json:"subscribers"`
		Connections int            `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Upstream != "connected" {
		t.Errorf("upstream = %s, want connected", body.Upstream)
	}
	if _, ok := body.Subscribers["BTC-USD"]; !ok {
		t.Errorf("subscribers = %v, want BTC-USD key", body.Subscribers)
	}
}

func TestServer_MetricsAndPreflight(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", resp.StatusCode)
	}
}

func TestWSConn_SendQueueFull(t *testing.T) {
	c := newWSConn("c1", nil, 1)

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("second Send = %v, want ErrSendQueueFull", err)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send after overflow = %v, want ErrConnClosed", err)
	}
}

func TestServer_StartStop(t *testing.T) {
	reg, _ := instrument.New(instrument.DefaultInstruments)
	engine := relay.NewEngine(reg, stubUpstream{}, orderbook.NewAggregator(orderbook.DefaultConfig()), nil, nil)

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, engine, nil, nil, nil)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if srv.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d after Stop, want 0", srv.ConnectionCount())
	}
}
