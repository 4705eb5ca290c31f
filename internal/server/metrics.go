package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry            *prometheus.Registry
	triggersTotal       *prometheus.CounterVec
	metadataWritesTotal prometheus.Counter
	rateLimitedTotal    prometheus.Counter
	knownConditions     prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	triggers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upirelay_triggers_total",
		Help: "Trigger requests by outcome",
	}, []string{"outcome"})

	writes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upirelay_metadata_writes_total",
		Help: "Off-ledger metadata records stored",
	})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "upirelay_rate_limited_total",
		Help: "Requests rejected by the fixed-window rate limiter",
	})

	conditions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "upirelay_known_conditions",
		Help: "Condition count last observed on the ledger",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(triggers, writes, limited, conditions)

	return &metricsRegistry{
		registry:            r,
		triggersTotal:       triggers,
		metadataWritesTotal: writes,
		rateLimitedTotal:    limited,
		knownConditions:     conditions,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incTrigger(outcome string) {
	m.triggersTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incMetadataWrite() {
	m.metadataWritesTotal.Inc()
}

func (m *metricsRegistry) incRateLimited() {
	m.rateLimitedTotal.Inc()
}

func (m *metricsRegistry) setKnownConditions(count uint64) {
	m.knownConditions.Set(float64(count))
}
