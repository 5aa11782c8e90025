// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the delivery engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metric instruments for Hookline, registered on the
// supplied Prometheus registerer.
type Metrics struct {
	EventsIngestedTotal prometheus.Counter
	DeliveriesTotal     *prometheus.CounterVec
	DeliveryLatency     prometheus.Histogram
	PendingDeliveries   prometheus.Gauge
	DLQSize             prometheus.Gauge
	LeaseContention     prometheus.Counter
}

// NewMetrics creates Hookline metric instruments on the given registerer.
// Pass prometheus.DefaultRegisterer for standalone usage.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hookline_events_ingested_total",
			Help: "Total events accepted for fan-out.",
		}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookline_delivery_latency_seconds",
			Help:    "Outbound webhook request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingDeliveries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hookline_pending_deliveries",
			Help: "Deliveries awaiting an attempt.",
		}),
		DLQSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hookline_dlq_size",
			Help: "Entries in the dead letter queue.",
		}),
		LeaseContention: factory.NewCounter(prometheus.CounterOpts{
			Name: "hookline_lease_contention_total",
			Help: "Attempts skipped because another worker held the delivery lease.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
