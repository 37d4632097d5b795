// Package metrics holds the gateway's Prometheus collectors. Register wires
// them into the default registry once; the HTTP server mounts Handler under
// /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts pipeline executions. The code label carries the
	// gateway error code, or "ok" for successful requests.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgateway_requests_total",
			Help: "Service requests processed, by result code.",
		},
		[]string{"service", "method", "code"},
	)

	// RequestDuration tracks full pipeline latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sgateway_request_duration_seconds",
			Help:    "Time spent processing service requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// ProviderFailovers counts providers dropped from a failover call after
	// a failed attempt.
	ProviderFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgateway_provider_failovers_total",
			Help: "Providers dropped during failover calls.",
		},
		[]string{"service", "provider"},
	)

	// MQMessages counts consumed queue messages by outcome: ack, requeue or
	// abandon.
	MQMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgateway_mq_messages_total",
			Help: "Message queue deliveries, by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register installs the collectors into the default Prometheus registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			ProviderFailovers,
			MQMessages,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
