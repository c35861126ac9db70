// Package metrics exposes Prometheus instruments for the ledger core.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "fintera_ledger_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultDryRun  = "dry_run"
)

var (
	registerOnce sync.Once

	batchRuns     *prometheus.CounterVec
	batchPages    *prometheus.CounterVec
	batchRetries  *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec

	summariesWritten     prometheus.Counter
	transactionsAppended *prometheus.CounterVec
	transactionsDeleted  prometheus.Counter
	dirtyMarks           prometheus.Counter
)

// Init registers the ledger metrics with the default registry. Until it is
// called every recording helper is a no-op.
func Init() {
	registerOnce.Do(func() {
		batchRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_runs_total",
				Help: "Batch runs by job and result",
			},
			[]string{"job", "result"},
		)
		batchPages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_pages_total",
				Help: "Pages processed by batch job",
			},
			[]string{"job"},
		)
		batchRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_retries_total",
				Help: "Transient failures retried by batch job",
			},
			[]string{"job"},
		)
		batchDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_duration_seconds",
				Help:    "Batch run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		)
		summariesWritten = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "financial_summaries_written_total",
			Help: "Financial summary snapshots written by recompute",
		})
		transactionsAppended = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transactions_appended_total",
				Help: "Ledger transactions appended by type",
			},
			[]string{"type"},
		)
		transactionsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "transactions_deleted_total",
			Help: "Ledger transactions soft deleted",
		})
		dirtyMarks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "dirty_marks_total",
			Help: "Financial summaries flagged for recompute",
		})

		prometheus.MustRegister(
			batchRuns,
			batchPages,
			batchRetries,
			batchDuration,
			summariesWritten,
			transactionsAppended,
			transactionsDeleted,
			dirtyMarks,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveBatchRun records a finished batch run
func ObserveBatchRun(job, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if batchRuns != nil {
		batchRuns.WithLabelValues(job, result).Inc()
	}
	if batchDuration != nil {
		batchDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}

// IncBatchPage counts a processed page
func IncBatchPage(job string) {
	if batchPages != nil {
		batchPages.WithLabelValues(job).Inc()
	}
}

// IncBatchRetry counts a retried page
func IncBatchRetry(job string) {
	if batchRetries != nil {
		batchRetries.WithLabelValues(job).Inc()
	}
}

// IncSummaryWritten counts a persisted financial summary
func IncSummaryWritten() {
	if summariesWritten != nil {
		summariesWritten.Inc()
	}
}

// IncTransactionAppended counts an appended ledger transaction
func IncTransactionAppended(txType string) {
	if transactionsAppended != nil {
		transactionsAppended.WithLabelValues(txType).Inc()
	}
}

// IncTransactionDeleted counts a soft deleted ledger transaction
func IncTransactionDeleted() {
	if transactionsDeleted != nil {
		transactionsDeleted.Inc()
	}
}

// IncDirtyMark counts a recompute marker write
func IncDirtyMark() {
	if dirtyMarks != nil {
		dirtyMarks.Inc()
	}
}
