package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketrelay"

// upstreamStates are the connector states exported as a one-hot gauge.
var upstreamStates = []string{"disconnected", "connecting", "connected", "backoff", "stopped"}

// Metrics holds the relay's collectors.
type Metrics struct {
	upstreamFrames    *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	upstreamState     *prometheus.GaugeVec
	reconnects        prometheus.Counter
	subscribers       *prometheus.GaugeVec
	broadcasts        *prometheus.CounterVec
	sendFailures      prometheus.Counter
	staleUpdates      *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	connections       prometheus.Gauge
	checkpointRuns    *prometheus.CounterVec
	checkpointLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		upstreamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_frames_total",
			Help:      "Upstream frames decoded, by frame type.",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_decode_errors_total",
			Help:      "Upstream frames that failed to decode and were dropped.",
		}),
		upstreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_state",
			Help:      "Upstream connection state (1 for the current state).",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Successful upstream reconnects after a failure.",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Client connections subscribed, by instrument.",
		}, []string{"instrument"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to clients, by instrument and message type.",
		}, []string{"instrument", "type"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_send_failures_total",
			Help:      "Client sends that returned an error.",
		}),
		staleUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orderbook_updates_discarded_total",
			Help:      "Order-book delta batches discarded by the minimum update interval.",
		}, []string{"instrument"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_requests_rejected_total",
			Help:      "Client requests rejected, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_connections",
			Help:      "Open client websocket connections.",
		}),
		checkpointRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_runs_total",
			Help:      "Latest-state checkpoint flushes, by result.",
		}, []string{"result"}),
		checkpointLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Latest-state checkpoint flush duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.upstreamFrames,
			m.decodeErrors,
			m.upstreamState,
			m.reconnects,
			m.subscribers,
			m.broadcasts,
			m.sendFailures,
			m.staleUpdates,
			m.rejections,
			m.connections,
			m.checkpointRuns,
			m.checkpointLatency,
		)
	}
	return m
}

// FrameDecoded counts a decoded upstream frame.
func (m *Metrics) FrameDecoded(frameType string) {
	if m == nil {
		return
	}
	m.upstreamFrames.WithLabelValues(frameType).Inc()
}

// DecodeError counts a dropped undecodable frame.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// SetUpstreamState marks state as the current connector state.
func (m *Metrics) SetUpstreamState(state string) {
	if m == nil {
		return
	}
	for _, s := range upstreamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.upstreamState.WithLabelValues(s).Set(v)
	}
}

// Reconnected counts a successful reconnect.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetSubscribers records the subscriber count for an instrument.
func (m *Metrics) SetSubscribers(instrument string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(instrument).Set(float64(n))
}

// Broadcast counts recipients of one fan-out.
func (m *Metrics) Broadcast(instrument, msgType string, recipients int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(instrument, msgType).Add(float64(recipients))
}

// SendFailed counts a failed client send.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// UpdateDiscarded counts a rate-limited delta batch.
func (m *Metrics) UpdateDiscarded(instrument string) {
	if m == nil {
		return
	}
	m.staleUpdates.WithLabelValues(instrument).Inc()
}

// Rejected counts a rejected client request.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Checkpoint records one checkpoint flush.
func (m *Metrics) Checkpoint(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.checkpointRuns.WithLabelValues(result).Inc()
	m.checkpointLatency.Observe(seconds)
}
