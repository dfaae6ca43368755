// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	unitsTotal                 *prometheus.CounterVec
	unitsInFlight              *prometheus.GaugeVec
	unitDurationSeconds        *prometheus.HistogramVec
	recordsTotal               *prometheus.CounterVec
	backendCallsTotal          *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interpelli_units_total",
				Help: "Pipeline units completed, labeled by phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		unitsInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "interpelli_units_inflight",
				Help: "Units currently holding a concurrency slot, labeled by phase.",
			},
			[]string{"phase"},
		)

		unitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interpelli_unit_duration_seconds",
				Help:    "Histogram of unit execution time, labeled by phase.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interpelli_records_total",
				Help: "Records handed to the sink, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		backendCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interpelli_backend_calls_total",
				Help: "Extraction backend calls, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interpelli_fetch_total",
				Help: "Page fetches and document downloads, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "interpelli_ratelimit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "interpelli_runs_total",
				Help: "Harvest runs, labeled by final status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests, labeled by method, route and status code.",
			},
			[]string{"method", "route", "code"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUnit records a finished unit.
func ObserveUnit(phase, outcome string, duration time.Duration) {
	Init()
	unitsTotal.WithLabelValues(phase, outcome).Inc()
	unitDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
}

// ObserveSkipped counts units that were never launched.
func ObserveSkipped(phase string, n int) {
	if n <= 0 {
		return
	}
	Init()
	unitsTotal.WithLabelValues(phase, "skipped").Add(float64(n))
}

// SetInFlight publishes the number of units holding a slot in phase.
func SetInFlight(phase string, n int64) {
	Init()
	unitsInFlight.WithLabelValues(phase).Set(float64(n))
}

// ObserveRecord counts a sink outcome (inserted, duplicate, error, invalid).
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackendCall counts an extraction backend round-trip.
func ObserveBackendCall(op, outcome string) {
	Init()
	backendCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveFetch counts a page fetch or document download.
func ObserveFetch(kind, outcome string) {
	Init()
	fetchTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveRun counts a finished harvest run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
