// Package metrics provides Prometheus metrics for the Lasomi service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks jobs reaching a terminal state
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lasomi",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of jobs by terminal state",
		},
		[]string{"tenant_id", "state", "failure_reason"},
	)

	// JobsInFlight tracks jobs currently running the pipeline
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lasomi",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// StageDuration tracks per-stage pipeline duration in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lasomi",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// ProviderFetchesTotal tracks provider fetch outcomes
	ProviderFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lasomi",
			Subsystem: "providers",
			Name:      "fetches_total",
			Help:      "Total number of provider fetches by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderFeaturesFetched tracks raw features returned per provider
	ProviderFeaturesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lasomi",
			Subsystem: "providers",
			Name:      "features_fetched_total",
			Help:      "Total number of raw features fetched per provider",
		},
		[]string{"provider"},
	)

	// RateLimitWaitTime tracks time spent waiting for provider rate limits
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lasomi",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for provider rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// ExportBytes tracks rendered artifact sizes
	ExportBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lasomi",
			Subsystem: "export",
			Name:      "artifact_bytes",
			Help:      "Size of rendered export artifacts in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"format"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lasomi",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordJobTerminal records a job reaching a terminal state
func RecordJobTerminal(tenantID, state, failureReason string) {
	JobsTotal.WithLabelValues(tenantID, state, failureReason).Inc()
}

// RecordStage records one pipeline stage's duration
func RecordStage(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordProviderFetch records a provider fetch outcome
func RecordProviderFetch(provider, outcome string, featureCount int) {
	ProviderFetchesTotal.WithLabelValues(provider, outcome).Inc()
	ProviderFeaturesFetched.WithLabelValues(provider).Add(float64(featureCount))
}

// RecordExport records a rendered artifact
func RecordExport(format string, sizeBytes int) {
	ExportBytes.WithLabelValues(format).Observe(float64(sizeBytes))
}
