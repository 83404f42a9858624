package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// risk-streaming engine.
type Metrics struct {
	// Upstream provider metrics.
	UpstreamRequests *prometheus.CounterVec // labels: outcome={success,unavailable,rejected}
	UpstreamDuration prometheus.Histogram

	// Observation cache metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,coalesced}

	// Session hub metrics.
	SessionsActive     prometheus.Gauge
	SubscribersActive  prometheus.Gauge
	SessionTicks       prometheus.Counter
	StreamEvents       *prometheus.CounterVec // labels: kind={score,error}
	SubscribersDropped prometheus.Counter

	// Alert and admission metrics.
	AlertEventsFired prometheus.Counter
	RateLimited      prometheus.Counter
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CacheLookups,
		m.SessionsActive,
		m.SubscribersActive,
		m.SessionTicks,
		m.StreamEvents,
		m.SubscribersDropped,
		m.AlertEventsFired,
		m.RateLimited,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "upstream_requests_total",
			Help:      "Upstream weather provider requests by outcome.",
		}, []string{"outcome"}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "riskstream",
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream weather provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "cache_lookups_total",
			Help:      "Observation cache lookups by result.",
		}, []string{"result"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskstream",
			Name:      "sessions_active",
			Help:      "Number of live polling sessions.",
		}),
		SubscribersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "riskstream",
			Name:      "subscribers_active",
			Help:      "Number of attached subscribers across all sessions.",
		}),
		SessionTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "session_ticks_total",
			Help:      "Total polling ticks across all sessions.",
		}),
		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "stream_events_total",
			Help:      "Events delivered to subscribers by kind.",
		}, []string{"kind"}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed due to cancellation or delivery failure.",
		}),
		AlertEventsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "alert_events_fired_total",
			Help:      "Alert events emitted to the side channel.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "riskstream",
			Name:      "rate_limited_total",
			Help:      "Requests denied by the admission rate gate.",
		}),
	}
}
