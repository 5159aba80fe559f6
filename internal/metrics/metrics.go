// Package metrics exposes Prometheus collectors for the lookup service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeExecutions           prometheus.Gauge
	queueDepth                 prometheus.Gauge
	executionDurationSeconds   *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	browserLaunchesTotal       *prometheus.CounterVec
	evictionsTotal             *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	upstreamProbesTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeq_jobs_total",
				Help: "Total number of jobs reaching a lifecycle state, labeled by state and error kind.",
			},
			[]string{"state", "kind"},
		)

		activeExecutions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapeq_active_executions",
				Help: "Number of executions currently holding a concurrency slot.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapeq_queue_depth",
				Help: "Number of admitted jobs waiting for a slot.",
			},
		)

		executionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapeq_execution_duration_seconds",
				Help:    "Histogram of executor run time, labeled by outcome.",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeq_cache_lookups_total",
				Help: "Result cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		browserLaunchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeq_browser_launches_total",
				Help: "Shared browser launches, labeled by status.",
			},
			[]string{"status"},
		)

		evictionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeq_evictions_total",
				Help: "Entries removed by the garbage collector, labeled by target.",
			},
			[]string{"target"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrapeq_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		upstreamProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeq_upstream_probes_total",
				Help: "Upstream availability probes, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob counts a job reaching state. kind is empty unless the job failed.
func ObserveJob(state, kind string) {
	Init()
	jobsTotal.WithLabelValues(state, kind).Inc()
}

// SetActiveExecutions records the number of running executions.
func SetActiveExecutions(n int) {
	Init()
	activeExecutions.Set(float64(n))
}

// SetQueueDepth records the number of waiting jobs.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveExecution records how long one executor run took.
func ObserveExecution(outcome string, duration time.Duration) {
	Init()
	executionDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	label := "miss"
	if hit {
		label = "hit"
	}
	cacheLookupsTotal.WithLabelValues(label).Inc()
}

// ObserveBrowserLaunch counts a browser launch attempt.
func ObserveBrowserLaunch(err error) {
	Init()
	status := "success"
	if err != nil {
		status = "error"
	}
	browserLaunchesTotal.WithLabelValues(status).Inc()
}

// ObserveEviction adds n removed entries for target.
func ObserveEviction(target string, n int) {
	Init()
	if n <= 0 {
		return
	}
	evictionsTotal.WithLabelValues(target).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveUpstreamProbe counts an upstream availability probe.
func ObserveUpstreamProbe(available bool) {
	Init()
	status := "up"
	if !available {
		status = "down"
	}
	upstreamProbesTotal.WithLabelValues(status).Inc()
}
