package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion pipeline (C5) metrics.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_messages_total",
			Help: "Total number of message/album units processed by result",
		},
		[]string{"result"}, // committed, rejected, partial
	)

	ItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_items_total",
			Help: "Total number of items processed by media kind and route",
		},
		[]string{"kind", "route"},
	)

	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teltubby_bytes_uploaded_total",
			Help: "Total bytes written to the object store",
		},
	)

	DedupHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_dedup_hits_total",
			Help: "Total number of items resolved as duplicates by reason",
		},
		[]string{"reason"}, // unique_id, sha256
	)

	ItemsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_items_skipped_total",
			Help: "Total number of items skipped or failed by reason",
		},
		[]string{"reason"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_errors_total",
			Help: "Total number of errors observed by error kind",
		},
		[]string{"kind"},
	)

	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teltubby_pipeline_duration_seconds",
			Help:    "Time taken to process one message/album unit end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teltubby_upload_duration_seconds",
			Help:    "Time taken to stream one item into the object store",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Album aggregator (C4) metrics.
	AlbumsOpenGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teltubby_albums_open",
			Help: "Number of album groups currently awaiting their close window",
		},
	)

	AlbumsFragmentedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teltubby_albums_fragmented_total",
			Help: "Total number of album fragments emitted from late arrivals",
		},
	)

	// Job queue (C7/C8) metrics.
	JobsByStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teltubby_jobs_by_state",
			Help: "Current number of local job rows by state",
		},
		[]string{"state"},
	)

	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_job_transitions_total",
			Help: "Total number of job state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teltubby_worker_jobs_processed_total",
			Help: "Total number of jobs the worker finished processing by outcome",
		},
		[]string{"outcome"}, // completed, failed, cancelled
	)

	WorkerSessionHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teltubby_worker_session_healthy",
			Help: "Whether the worker's user-protocol session is currently usable (1) or held (0)",
		},
	)

	// Quota gate (C9) metrics.
	QuotaGateOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teltubby_quota_gate_open",
			Help: "Whether the quota gate is open (1) or closed (0)",
		},
	)

	QuotaGateTransitionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teltubby_quota_gate_transitions_total",
			Help: "Total number of quota gate open/closed transitions",
		},
	)

	QuotaUsedRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teltubby_quota_used_ratio",
			Help: "Last observed bucket usage ratio (0..1); unset when unknown",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		ItemsTotal,
		BytesUploadedTotal,
		DedupHitsTotal,
		ItemsSkippedTotal,
		ErrorsTotal,
		PipelineDuration,
		UploadDuration,
		AlbumsOpenGauge,
		AlbumsFragmentedTotal,
		JobsByStateGauge,
		JobTransitionsTotal,
		JobsProcessedTotal,
		WorkerSessionHealthy,
		QuotaGateOpen,
		QuotaGateTransitionsTotal,
		QuotaUsedRatio,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
