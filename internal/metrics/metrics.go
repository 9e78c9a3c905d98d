// Package metrics provides Prometheus metrics for the digest bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "digestbot"

var (
	// ItemsIngested counts harvested items by source and result (inserted, duplicate, error).
	ItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_ingested_total",
			Help:      "Total number of harvested items by result",
		},
		[]string{"source", "result"},
	)

	// SourceFailures counts sources that could not be fetched or parsed.
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Total number of failed source fetches",
		},
		[]string{"source", "kind"},
	)

	// IngestDuration measures one full ingestion cycle.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_cycle_duration_seconds",
			Help:      "Duration of ingestion cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// DateFallbacks counts timestamps that could not be parsed and were replaced by the current time.
	DateFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "date_fallbacks_total",
			Help:      "Total number of unparseable upstream timestamps",
		},
	)

	// Digests counts dispatch outcomes.
	Digests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_total",
			Help:      "Total number of digest dispatches by outcome",
		},
		[]string{"outcome"},
	)

	// ActiveSchedules tracks the number of recipients with a live schedule.
	ActiveSchedules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_schedules",
			Help:      "Number of recipients with an active digest schedule",
		},
	)

	// SkippedTicks counts ticks dropped because the previous one was still running.
	SkippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Total number of schedule ticks skipped due to overlap",
		},
	)
)

// Dispatch outcomes.
const (
	OutcomeDelivered   = "delivered"
	OutcomeEmpty       = "empty"
	OutcomeSummaryFail = "summary_failed"
	OutcomeTransient   = "transient_failure"
	OutcomePermanent   = "permanent_failure"
	OutcomeStoreError  = "store_error"
)

// RecordItem records the result of storing one harvested item.
func RecordItem(source, result string) {
	ItemsIngested.WithLabelValues(source, result).Inc()
}

// RecordSourceFailure records a failed source.
func RecordSourceFailure(source, kind string) {
	SourceFailures.WithLabelValues(source, kind).Inc()
}

// RecordDigest records a dispatch outcome.
func RecordDigest(outcome string) {
	Digests.WithLabelValues(outcome).Inc()
}
