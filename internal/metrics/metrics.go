// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline and the API.
type Metrics struct {
	// Pipeline outcomes
	EventsReceived *prometheus.CounterVec
	EventsDone     prometheus.Counter
	EventsFailed   *prometheus.CounterVec

	// Write activity
	RowsAttempted *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	WriteRetries  prometheus.Counter

	// Archive activity
	ArchiveRetries    prometheus.Counter
	ArchiveDuplicates prometheus.Counter

	// Timing
	StepDuration *prometheus.HistogramVec

	// API
	AuthDenied   prometheus.Counter
	APIResponses *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // e.g. ":9090"
}

var defaultMetrics *Metrics

// Init initializes the global metrics. Call once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ingest_pipeline"
	}

	m := &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Ingestion events received, by source.",
		}, []string{"source"}),
		EventsDone: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_done_total",
			Help:      "Events that reached DONE.",
		}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Events that ended in a failure archive or FAILED, by reason.",
		}, []string{"reason"}),
		RowsAttempted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_attempted_total",
			Help:      "Rows submitted to the writer, by target.",
		}, []string{"target"}),
		RowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows actually inserted, by target.",
		}, []string{"target"}),
		WriteRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_total",
			Help:      "Write attempts beyond the first.",
		}),
		ArchiveRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_retries_total",
			Help:      "Archive attempts beyond the first.",
		}),
		ArchiveDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_duplicates_total",
			Help:      "Relocations where the source delete failed after a successful copy.",
		}),
		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		AuthDenied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_denied_total",
			Help:      "Requests denied by the token authorizer.",
		}),
		APIResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_responses_total",
			Help:      "API responses by status code.",
		}, []string{"status"}),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics, or nil if Init was never called.
func Get() *Metrics {
	return defaultMetrics
}

// Serve starts the metrics HTTP listener. Blocks; run in a goroutine.
func Serve(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(cfg.Address, mux)
}
