package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	OracleCalls        *prometheus.CounterVec
	FeedDropped        prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mintbay_settlements_total",
				Help: "Total settlement attempts.",
			},
			[]string{"intent", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mintbay_settlement_duration_seconds",
				Help:    "Settlement processing duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"intent"},
		),
		OracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mintbay_oracle_certifications_total",
				Help: "Total proof oracle certification calls.",
			},
			[]string{"status"},
		),
		FeedDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mintbay_feed_dropped_total",
				Help: "Settled transactions dropped from the activity feed queue.",
			},
		),
	}

	registry.MustRegister(
		m.SettlementsTotal,
		m.SettlementDuration,
		m.OracleCalls,
		m.FeedDropped,
	)
	return m
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSettlement(intent, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(intent, status).Inc()
	m.SettlementDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

func (m *Metrics) IncOracleCall(status string) {
	if m == nil {
		return
	}
	m.OracleCalls.WithLabelValues(status).Inc()
}

func (m *Metrics) IncFeedDropped() {
	if m == nil {
		return
	}
	m.FeedDropped.Inc()
}
