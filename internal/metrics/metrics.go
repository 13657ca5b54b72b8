// Package metrics exposes Prometheus collectors for the protocol engine.
//
// Every method is safe on a nil *Metrics, so the engine can run without a
// registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bullscows"

// Connection attempt results.
const (
	ResultOK        = "ok"
	ResultRefused   = "refused"
	ResultTimeout   = "handshake_timeout"
	ResultMismatch  = "handshake_mismatch"
	ResultCancelled = "cancelled"
)

// Stream failure sources.
const (
	SourceReader    = "reader"
	SourceKeepAlive = "keepalive"
	SourceSend      = "send"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	connects         *prometheus.CounterVec
	handshake        prometheus.Histogram
	tokens           *prometheus.CounterVec
	heartbeats       prometheus.Counter
	streamFailures   *prometheus.CounterVec
	reconnectPrompts prometheus.Counter
	state            prometheus.Gauge
	sends            prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by operation (connect, reconnect) and result",
		}, []string{"op", "result"}),

		handshake: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to a validated handshake token",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_received_total",
			Help:      "Server tokens received by kind",
		}, []string{"kind"}),

		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Keep-alive payloads written",
		}),

		streamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Read or write failures that ended a connection, by source",
		}, []string{"source"}),

		reconnectPrompts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_prompts_total",
			Help:      "Retry decisions requested from the presentation layer",
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_state",
			Help:      "Current client state as its numeric value",
		}),

		sends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "User messages written to the server",
		}),
	}
}

func (m *Metrics) ConnectAttempt(op, result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveHandshake(d time.Duration) {
	if m == nil {
		return
	}
	m.handshake.Observe(d.Seconds())
}

func (m *Metrics) TokenReceived(kind string) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(kind).Inc()
}

func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) StreamFailure(source string) {
	if m == nil {
		return
	}
	m.streamFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) ReconnectPrompted() {
	if m == nil {
		return
	}
	m.reconnectPrompts.Inc()
}

func (m *Metrics) SetState(v int) {
	if m == nil {
		return
	}
	m.state.Set(float64(v))
}

func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.sends.Inc()
}
