// Package metrics provides Prometheus collectors for administrative jobs and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics contains Prometheus metrics for job runs.
type JobMetrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	itemsTotal       *prometheus.CounterVec
	lastRunTimestamp *prometheus.GaugeVec
	ledgerErrors     prometheus.Counter
}

// NewJobMetrics creates and registers job metrics.
func NewJobMetrics(registry prometheus.Registerer) (*JobMetrics, error) {
	m := &JobMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptshelf_job_runs_total",
				Help: "Total number of job runs by job and final status",
			},
			[]string{"job", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptshelf_job_duration_seconds",
				Help:    "Wall time of job runs",
				Buckets: prometheus.ExponentialBuckets(bucketStart10ms, bucketFactor2, bucketCount14),
			},
			[]string{"job", "dry_run"},
		),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptshelf_job_items_total",
				Help: "Records processed by jobs, by outcome",
			},
			[]string{"job", "outcome"},
		),
		lastRunTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "promptshelf_job_last_run_timestamp_seconds",
				Help: "Unix time the job last finished",
			},
			[]string{"job"},
		),
		ledgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptshelf_job_ledger_errors_total",
			Help: "Job reports that could not be written to the ledger",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRun counts one finished run.
func (m *JobMetrics) RecordRun(job, status string, dryRun bool, d time.Duration, finished time.Time) {
	m.runsTotal.WithLabelValues(job, status).Inc()
	dry := "false"
	if dryRun {
		dry = "true"
	}
	m.runDuration.WithLabelValues(job, dry).Observe(d.Seconds())
	m.lastRunTimestamp.WithLabelValues(job).Set(float64(finished.Unix()))
}

// RecordItems adds n processed records with the given outcome. Zero is ignored.
func (m *JobMetrics) RecordItems(job, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.itemsTotal.WithLabelValues(job, outcome).Add(float64(n))
}

// RecordLedgerError counts a failed ledger write.
func (m *JobMetrics) RecordLedgerError() {
	m.ledgerErrors.Inc()
}

// Describe implements the Collector interface.
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.runDuration.Describe(ch)
	m.itemsTotal.Describe(ch)
	m.lastRunTimestamp.Describe(ch)
	m.ledgerErrors.Describe(ch)
}

// Collect implements the Collector interface.
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.runDuration.Collect(ch)
	m.itemsTotal.Collect(ch)
	m.lastRunTimestamp.Collect(ch)
	m.ledgerErrors.Collect(ch)
}
