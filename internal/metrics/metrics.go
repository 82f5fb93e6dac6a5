package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payment initiations by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_call_duration_seconds",
			Help:    "Latency of calls to payment providers",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_received_total",
			Help: "Provider callbacks by provider and reconciliation outcome",
		},
		[]string{"provider", "outcome"},
	)

	PayoutsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_processed_total",
			Help: "Payout attempts by provider and resulting status",
		},
		[]string{"provider", "status"},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_event_publish_errors_total",
			Help: "Domain events that could not be published",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
