package hub

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records hub activity.
type Metrics interface {
	SetConnections(evaluationID string, n int)
	IncSendFailures(evaluationID string)
	ObserveUpdate(evaluationID, kind, result string)
	ObserveBroadcast(evaluationID string, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SetConnections(string, int)             {}
func (NopMetrics) IncSendFailures(string)                 {}
func (NopMetrics) ObserveUpdate(string, string, string)   {}
func (NopMetrics) ObserveBroadcast(string, time.Duration) {}

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	connections      *prometheus.GaugeVec
	sendFailures     *prometheus.CounterVec
	updates          *prometheus.CounterVec
	broadcastLatency *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the hub collectors with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leaderboard_connections",
				Help: "Connections currently registered with a leaderboard hub.",
			},
			[]string{"evaluation_id"},
		),
		sendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_send_failures_total",
				Help: "Connections dropped because a snapshot could not be sent.",
			},
			[]string{"evaluation_id"},
		),
		updates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaderboard_updates_total",
				Help: "Inbound leaderboard mutations by kind and result.",
			},
			[]string{"evaluation_id", "kind", "result"},
		),
		broadcastLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leaderboard_broadcast_duration_seconds",
				Help:    "Time spent ranking and fanning out one snapshot.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"evaluation_id"},
		),
	}
}

func (m *PrometheusMetrics) SetConnections(evaluationID string, n int) {
	m.connections.WithLabelValues(evaluationID).Set(float64(n))
}

func (m *PrometheusMetrics) IncSendFailures(evaluationID string) {
	m.sendFailures.WithLabelValues(evaluationID).Inc()
}

func (m *PrometheusMetrics) ObserveUpdate(evaluationID, kind, result string) {
	m.updates.WithLabelValues(evaluationID, kind, result).Inc()
}

func (m *PrometheusMetrics) ObserveBroadcast(evaluationID string, d time.Duration) {
	m.broadcastLatency.WithLabelValues(evaluationID).Observe(d.Seconds())
}
