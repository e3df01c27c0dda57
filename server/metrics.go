package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	PaymentsVerified   prometheus.Counter
	PaymentsSettled    prometheus.Counter
	PaymentsRejected   prometheus.Counter
	ChargesCreated     prometheus.Counter
	ChargesVerified    prometheus.Counter
	GeneratorFallbacks prometheus.Counter
	SeedFallbacks      prometheus.Counter

	GenerationDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PaymentsVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_payments_verified_total",
			Help: "Payments accepted by the facilitator verify step",
		}),
		PaymentsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_payments_settled_total",
			Help: "Payments settled on chain",
		}),
		PaymentsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_payments_rejected_total",
			Help: "Payments rejected at verify or settle",
		}),
		ChargesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_commerce_charges_created_total",
			Help: "Hosted checkout charges created",
		}),
		ChargesVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_commerce_charges_verified_total",
			Help: "Hosted checkout charges verified as paid",
		}),
		GeneratorFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_generator_fallbacks_total",
			Help: "Fortunes served from the static fallback verses",
		}),
		SeedFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fortune_seed_fallbacks_total",
			Help: "Stick derivations that fell back to time-based seeding",
		}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fortune_generation_duration_seconds",
			Help:    "Wall time of fortune generation including model calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler exposes the registry for a /metrics route
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
