// Package telemetry unifies Prometheus metrics and OpenTelemetry tracing for
// the scraping service.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Attempt results recorded by ObserveAttempt.
const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)

var (
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	scraperOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_operations_total",
			Help: "Total number of scrape/search operations, labeled by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	scraperOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_operation_duration_seconds",
			Help:    "Histogram of end-to-end operation latencies, labeled by op.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"op"},
	)

	scraperFetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_attempts_total",
			Help: "Total number of browser fetch attempts made under the retry policy, labeled by result.",
		},
		[]string{"result"},
	)

	admissionInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_admission_in_flight",
			Help: "Number of admission permits currently held.",
		},
	)

	admissionWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_admission_wait_seconds",
			Help:    "Histogram of time spent waiting for an admission permit.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	browserOpenTabs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_browser_open_tabs",
			Help: "Number of browser tabs currently open.",
		},
	)

	browserFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_browser_fetch_duration_seconds",
			Help:    "Histogram of single-tab fetch latencies, labeled by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"outcome"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_rate_limit_delays_seconds",
			Help:    "Histogram of per-host render budget wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
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

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOperation records a finished coordinator operation.
func ObserveOperation(op, outcome string, duration time.Duration) {
	scraperOperationsTotal.WithLabelValues(op, outcome).Inc()
	scraperOperationDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveAttempt records one attempt made by the retry policy.
func ObserveAttempt(result string) {
	scraperFetchAttemptsTotal.WithLabelValues(result).Inc()
}

// PermitAcquired records a granted admission permit and the time spent waiting.
func PermitAcquired(wait time.Duration) {
	admissionInFlight.Inc()
	admissionWaitSeconds.Observe(wait.Seconds())
}

// PermitReleased records a returned admission permit.
func PermitReleased() {
	admissionInFlight.Dec()
}

// TabOpened increments the open tab gauge.
func TabOpened() {
	browserOpenTabs.Inc()
}

// TabClosed decrements the open tab gauge and records the fetch latency.
func TabClosed(outcome string, duration time.Duration) {
	browserOpenTabs.Dec()
	browserFetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a per-host budget wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
