// Package metrics exposes Prometheus collectors for the crawler service.
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
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamDurationSeconds    *prometheus.HistogramVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	credentialRotationsTotal   *prometheus.CounterVec
	journalsProcessedTotal     *prometheus.CounterVec
	pagesCollectedTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journals_upstream_requests_total",
				Help: "Upstream API requests, labeled by source and status code.",
			},
			[]string{"source", "code"},
		)

		upstreamDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "journals_upstream_request_duration_seconds",
				Help:    "Upstream API latency, labeled by source.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "journals_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a source rate limiter slot.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		credentialRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journals_credential_rotations_total",
				Help: "Credential or proxy rotations, labeled by source.",
			},
			[]string{"source"},
		)

		journalsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journals_processed_total",
				Help: "Journals processed by the detail fetcher, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pagesCollectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "journals_pages_collected_total",
				Help: "Authoritative source pages stored by the collector.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "journals_active_workers",
				Help: "Number of detail fetcher workers processing a journal.",
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
	return promhttp.Handler()
}

// ObserveUpstream records one upstream call. A zero code means transport failure.
func ObserveUpstream(source string, code int, duration time.Duration) {
	Init()
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	upstreamRequestsTotal.WithLabelValues(source, label).Inc()
	upstreamDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRateLimitWait records how long a caller waited for a limiter slot.
func ObserveRateLimitWait(source string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRotation counts a credential or proxy rotation.
func ObserveRotation(source string) {
	Init()
	credentialRotationsTotal.WithLabelValues(source).Inc()
}

// ObserveJournal counts a processed journal by outcome (succeeded or failed).
func ObserveJournal(outcome string) {
	Init()
	journalsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObservePage counts a stored authoritative page.
func ObservePage() {
	Init()
	pagesCollectedTotal.Inc()
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
