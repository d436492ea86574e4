// Package metrics exposes Prometheus collectors for the batch search coordinator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Find kinds reported by ObserveFind.
const (
	FindGenuine  = "genuine"
	FindRedacted = "redacted"
)

var (
	batchesTotal               *prometheus.CounterVec
	findsTotal                 *prometheus.CounterVec
	storeUpdateRetriesTotal    prometheus.Counter
	storeUpdateFailuresTotal   prometheus.Counter
	batchesSkippedTotal        prometheus.Counter
	processDurationSeconds     prometheus.Histogram
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchsearch_batches_total",
				Help: "Total number of batches run, labeled by final status.",
			},
			[]string{"status"},
		)

		findsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchsearch_finds_total",
				Help: "Total number of confirmed finds, labeled by kind.",
			},
			[]string{"kind"},
		)

		storeUpdateRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batchsearch_store_update_retries_total",
				Help: "Total number of job store updates that needed a retry.",
			},
		)

		storeUpdateFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batchsearch_store_update_failures_total",
				Help: "Total number of job store updates abandoned after the retry.",
			},
		)

		batchesSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batchsearch_batches_skipped_total",
				Help: "Total number of claimed batches skipped because they were done or in progress.",
			},
		)

		processDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchsearch_process_duration_seconds",
				Help:    "Histogram of external search process run times.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchsearch_active_workers",
				Help: "Number of device workers currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveBatch increments the batch counter for the given final status.
func ObserveBatch(status string) {
	Init()
	batchesTotal.WithLabelValues(status).Inc()
}

// ObserveFind increments the find counter for kind.
func ObserveFind(kind string) {
	Init()
	findsTotal.WithLabelValues(kind).Inc()
}

// ObserveSkip counts a claimed batch that was not run.
func ObserveSkip() {
	Init()
	batchesSkippedTotal.Inc()
}

// ObserveUpdateRetry counts a store update that failed once and is being retried.
func ObserveUpdateRetry() {
	Init()
	storeUpdateRetriesTotal.Inc()
}

// ObserveUpdateFailure counts a store update abandoned after its retry.
func ObserveUpdateFailure() {
	Init()
	storeUpdateFailuresTotal.Inc()
}

// ObserveProcessDuration records how long one external process ran.
func ObserveProcessDuration(d time.Duration) {
	Init()
	processDurationSeconds.Observe(d.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
