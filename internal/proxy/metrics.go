package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for the listener side. A nil
// *Metrics is valid and records nothing, so tests can leave it out.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec
	SessionsRejected  prometheus.Counter
	RelayBytes        *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
}

// NewMetrics creates and registers all collectors on the default registry.
// Call it once per process.
func NewMetrics() *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stpro_active_sessions",
			Help: "Number of sessions currently being relayed.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stpro_sessions_total",
			Help: "Total sessions that reached the relay stage, by protocol.",
		}, []string{"protocol"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stpro_handshake_failures_total",
			Help: "Connections that never reached the relay stage, by reason.",
		}, []string{"reason"}),
		SessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stpro_sessions_rejected_total",
			Help: "Connections closed because the session limit was reached.",
		}),
		RelayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stpro_relay_bytes_total",
			Help: "Bytes relayed by direction; up is client to destination.",
		}, []string{"direction"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stpro_session_duration_seconds",
			Help:    "Session lifetime from relay start to teardown.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	prometheus.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.HandshakeFailures,
		m.SessionsRejected,
		m.RelayBytes,
		m.SessionDuration,
	)

	return m
}

// RecordSessionStart marks a session entering the relay stage.
func (m *Metrics) RecordSessionStart(protocol string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionsTotal.WithLabelValues(protocol).Inc()
}

// RecordSessionEnd marks a session torn down after relaying.
func (m *Metrics) RecordSessionEnd(up, down int64, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.RelayBytes.WithLabelValues("up").Add(float64(up))
	m.RelayBytes.WithLabelValues("down").Add(float64(down))
	m.SessionDuration.Observe(d.Seconds())
}

// RecordHandshakeFailure counts a connection dropped before the relay stage.
func (m *Metrics) RecordHandshakeFailure(reason string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}

// RecordRejected counts a connection refused by the session limit.
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.SessionsRejected.Inc()
}
