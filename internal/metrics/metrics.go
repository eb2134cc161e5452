// Package metrics provides Prometheus metrics for BlazeAlert.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "blazealert"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Ingest metrics
var (
	// EventsIngestedTotal counts stored error events by source and type.
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total error events stored",
		},
		[]string{"source", "error_type"},
	)

	// EventsDroppedTotal counts events dropped before storage.
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Total error events dropped before storage",
		},
		[]string{"reason"}, // invalid, filtered, duplicate, store_error
	)

	// KafkaMessagesTotal counts consumed Kafka messages by result.
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total Kafka messages consumed",
		},
		[]string{"result"}, // ok, malformed, failed
	)
)

// Engine metrics
var (
	// RulesEvaluatedTotal counts rule evaluations by final state.
	RulesEvaluatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rules_evaluated_total",
			Help:      "Total rule evaluations by resulting state",
		},
		[]string{"state"}, // idle, fired, suppressed, invalid, failed
	)

	// EvaluationDuration tracks per-event evaluation latency.
	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Time to evaluate all candidate rules for one event",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Dispatch metrics
var (
	// NotificationsWrittenTotal counts in-app notifications by result.
	NotificationsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total in-app notification writes",
		},
		[]string{"result"}, // created, duplicate, failed
	)

	// EmailsSentTotal counts email deliveries by result.
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "emails_total",
			Help:      "Total email delivery attempts",
		},
		[]string{"result"}, // sent, failed, rate_limited
	)

	// InboxSubscribers tracks connected websocket inbox streams.
	InboxSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "subscribers",
			Help:      "Number of connected notification streams",
		},
	)
)

// Retention metrics
var (
	// EventsPurgedTotal counts events removed by the retention janitor.
	EventsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "events_purged_total",
			Help:      "Total error events removed by retention",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
