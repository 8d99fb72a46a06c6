// Package metrics exposes Prometheus collectors for the lead crawler.
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

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerLeadsTotal             *prometheus.CounterVec
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerFetchRetriesTotal      prometheus.Counter
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	rateLimitFailOpenTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadsniffer_pages_total",
				Help: "Total number of pages fetched, labeled by domain and status.",
			},
			[]string{"domain", "status"},
		)

		crawlerLeadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadsniffer_leads_total",
				Help: "Total number of lead upserts, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadsniffer_jobs_total",
				Help: "Total number of jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadsniffer_fetch_duration_seconds",
				Help:    "Histogram of single-fetch latencies, labeled by domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"domain"},
		)

		crawlerFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadsniffer_fetch_retries_total",
				Help: "Total fetch attempts that were retried.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "leadsniffer_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadsniffer_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		rateLimitFailOpenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadsniffer_rate_limit_fail_open_total",
				Help: "Requests admitted without rate limiting because the backing store was unreachable.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one completed fetch within a job.
func ObservePage(domain string, statusCode int, duration time.Duration) {
	if domain == "" {
		domain = "unknown"
	}
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	crawlerPagesTotal.WithLabelValues(domain, status).Inc()
	crawlerFetchDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveLead records one lead upsert outcome ("created" or "updated").
func ObserveLead(domain, outcome string) {
	if domain == "" {
		domain = "unknown"
	}
	crawlerLeadsTotal.WithLabelValues(domain, outcome).Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchRetry counts one retried fetch attempt.
func ObserveFetchRetry() {
	crawlerFetchRetriesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if domain == "" {
		domain = "unknown"
	}
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRateLimitFailOpen counts a fail-open admission.
func ObserveRateLimitFailOpen() {
	rateLimitFailOpenTotal.Inc()
}
