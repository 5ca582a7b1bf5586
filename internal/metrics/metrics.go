// Package metrics holds the Prometheus collectors for the recommendation
// pipeline, its providers and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrec_dispatch_attempts_total",
			Help: "Text-generation calls by provider and outcome",
		},
		[]string{"provider", "outcome"}, // "ok", "rate_limit", "transport", "credential", "permanent", "canceled"
	)

	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carrec_backoff_seconds",
			Help:    "Backoff delays scheduled between dispatch attempts",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"class"},
	)

	PipelineResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrec_pipeline_results_total",
			Help: "Recommendation pipeline runs by terminal status",
		},
		[]string{"status"}, // "ok", "empty", "rate_limited", "transport", "credential", "no_candidates", "no_requirements", "canceled"
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carrec_pipeline_duration_seconds",
			Help:    "Wall time of a recommendation pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecommendationsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carrec_recommendations_resolved_total",
			Help: "Model identifiers resolved to dataset rows",
		},
	)

	IdentifiersUnresolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carrec_identifiers_unresolved_total",
			Help: "Model identifiers that matched no dataset row",
		},
	)

	DatasetRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carrec_dataset_rows",
			Help: "Rows in the cleaned dataset",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carrec_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrec_circuit_breaker_transitions_total",
			Help: "Provider circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrec_http_requests_total",
			Help: "HTTP API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carrec_http_request_duration_seconds",
			Help:    "HTTP API latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	ImageLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrec_image_lookups_total",
			Help: "Car image URL lookups by result",
		},
		[]string{"result"}, // "cache", "found", "placeholder"
	)
)

// RecordDispatch counts one text-generation call.
func RecordDispatch(provider, outcome string) {
	DispatchAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordBackoff observes one scheduled retry delay.
func RecordBackoff(class string, d time.Duration) {
	BackoffSeconds.WithLabelValues(class).Observe(d.Seconds())
}

// RecordPipeline records the outcome of one pipeline run.
func RecordPipeline(status string, resolved, unresolved int, d time.Duration) {
	PipelineResults.WithLabelValues(status).Inc()
	PipelineDuration.Observe(d.Seconds())
	RecommendationsResolved.Add(float64(resolved))
	IdentifiersUnresolved.Add(float64(unresolved))
}

// SetBreakerState publishes a breaker state as 0, 1 or 2.
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(route, code string, d time.Duration) {
	HTTPRequests.WithLabelValues(route, code).Inc()
	HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
