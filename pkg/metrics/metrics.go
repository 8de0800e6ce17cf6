// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes recorded by the tracker sink.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TrackerEventsTotal counts event records built by the tracker.
	TrackerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_events_total",
			Help: "Event records built by the tracker",
		},
		[]string{"event_type"},
	)

	// TrackerSubmissionsTotal counts sink submissions by endpoint and outcome.
	TrackerSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_submissions_total",
			Help: "Tracker submissions by endpoint and outcome",
		},
		[]string{"endpoint", "outcome", "reason"},
	)

	// TrackerSubmitDuration tracks how long a submission took to settle.
	TrackerSubmitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_submit_duration_seconds",
			Help:    "Tracker submission duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// TrackerInflight tracks submissions that have not settled yet.
	TrackerInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_inflight_submissions",
			Help: "Tracker submissions in flight",
		},
	)

	// EventsIngestedTotal counts records accepted by the collector.
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_ingested_total",
			Help: "Analytics events accepted by the collector",
		},
		[]string{"event_type", "authenticated"},
	)

	// EventsRejectedTotal counts records the collector refused.
	EventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_rejected_total",
			Help: "Analytics events rejected by the collector",
		},
		[]string{"reason"},
	)

	// NATSPublishFailures counts failed JetStream publishes.
	NATSPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_failures_total",
			Help: "Failed JetStream publishes",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSubmission records the outcome of one tracker submission.
func RecordSubmission(endpoint, outcome, reason string, duration float64) {
	TrackerSubmissionsTotal.WithLabelValues(endpoint, outcome, reason).Inc()
	TrackerSubmitDuration.WithLabelValues(endpoint).Observe(duration)
}
