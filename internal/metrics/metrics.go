package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	WebhookDeliveries *prometheus.CounterVec
	Fulfillments      *prometheus.CounterVec
	TokenRetries      prometheus.Counter
	ExecuteDuration   prometheus.Histogram
}

// New configures and registers the service instruments.
func New() *Metrics {
	m := &Metrics{
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_deliveries_total",
				Help: "Inbound gateway webhook deliveries by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		Fulfillments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fulfillment_attempts_total",
				Help: "Fulfillment attempts by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		TokenRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "economy_token_retries_total",
				Help: "Anti-forgery token handshake replays against the economy API",
			},
		),
		ExecuteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fulfillment_execute_duration_seconds",
				Help:    "Duration of economy API execution including verification",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	prometheus.MustRegister(
		m.WebhookDeliveries,
		m.Fulfillments,
		m.TokenRetries,
		m.ExecuteDuration,
	)
	return m
}

// Module provides the metrics instruments.
var Module = fx.Module("metrics",
	fx.Provide(New),
)
