package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/storefront/internal/core/domain"
)

type PlacementMetrics struct {
	placements *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	registry   *prometheus.Registry
}

func NewPlacementMetrics(service string) *PlacementMetrics {
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "order_placements_total",
		Help:      "Order placements by terminal outcome.",
	}, []string{"outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "order_placement_duration_ms",
		Help:      "Order placement unit of work latency in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"outcome"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(placements, latency, collectors.NewGoCollector())

	return &PlacementMetrics{placements: placements, latency: latency, registry: registry}
}

func (m *PlacementMetrics) ObservePlacement(status domain.OutcomeStatus, elapsed time.Duration) {
	m.placements.WithLabelValues(string(status)).Inc()
	m.latency.WithLabelValues(string(status)).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *PlacementMetrics) Placements(status domain.OutcomeStatus) prometheus.Counter {
	return m.placements.WithLabelValues(string(status))
}

func (m *PlacementMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
