// Package metrics provides Prometheus metrics for the bookscan daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No high-cardinality labels (no file IDs, no run IDs).
var (
	// Counters

	// ItemsTotal counts pipeline item outcomes by result (processed, skipped, error).
	ItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookscan_items_total",
		Help: "Total number of scanned items, by outcome.",
	}, []string{"outcome"})

	// RunsTotal counts finished scan runs by terminal phase.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookscan_runs_total",
		Help: "Total number of finished scan runs, by terminal phase.",
	}, []string{"phase"})

	// LogDropTotal counts log lines dropped because a subscriber queue was full.
	LogDropTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookscan_log_drop_total",
		Help: "Total number of log lines dropped on slow subscribers.",
	})

	// DriveRequestsTotal counts upstream Drive API calls by operation and result.
	DriveRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookscan_drive_requests_total",
		Help: "Total number of Drive API requests, by operation and result.",
	}, []string{"operation", "result"})

	// UploadsTotal counts media host uploads by result.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookscan_uploads_total",
		Help: "Total number of asset uploads, by result.",
	}, []string{"result"})

	// Gauges

	// JobRunning is 1 while a scan job is in the RUNNING phase.
	JobRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookscan_job_running",
		Help: "Whether a scan job is currently running.",
	})

	// LogSubscribers tracks the number of open log stream subscribers.
	LogSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookscan_log_subscribers",
		Help: "Current number of live log subscribers.",
	})
)

// RecordItem increments the item counter for the given outcome.
func RecordItem(outcome string) {
	ItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordRun increments the finished-run counter for the given terminal phase.
func RecordRun(phase string) {
	RunsTotal.WithLabelValues(phase).Inc()
}

// RecordDriveRequest increments the Drive request counter.
func RecordDriveRequest(operation, result string) {
	DriveRequestsTotal.WithLabelValues(operation, result).Inc()
}

// RecordUpload increments the upload counter.
func RecordUpload(result string) {
	UploadsTotal.WithLabelValues(result).Inc()
}
