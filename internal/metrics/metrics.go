// Package metrics exposes Prometheus collectors for the harvester service.
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
	discoveredURLsTotal        *prometheus.CounterVec
	discoveryPagesCrawledTotal *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchResultsTotal          *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// repeatedly; every Observe helper calls it first.
func Init() {
	once.Do(func() {
		discoveredURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_discovered_urls_total",
				Help: "URLs added to discovered sets, labeled by site.",
			},
			[]string{"site"},
		)
		discoveryPagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_discovery_pages_crawled_total",
				Help: "Pages fetched for link discovery, labeled by site.",
			},
			[]string{"site"},
		)
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Content fetch attempts, labeled by site.",
			},
			[]string{"site"},
		)
		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_results_total",
				Help: "Final content fetch outcomes, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Bytes fetched for content extraction, labeled by site.",
			},
			[]string{"site"},
		)
		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Content fetch retries, labeled by site.",
			},
			[]string{"site"},
		)
		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_extractions_total",
				Help: "Structured extraction calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_jobs_total",
				Help: "Jobs finished, labeled by status.",
			},
			[]string{"status"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
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
	Init()
	return promhttp.Handler()
}

// ObserveDiscovery records the size of a finished discovery walk.
func ObserveDiscovery(site string, discovered, crawled int) {
	Init()
	s := SanitizeSite(site)
	discoveredURLsTotal.WithLabelValues(s).Add(float64(discovered))
	discoveryPagesCrawledTotal.WithLabelValues(s).Add(float64(crawled))
}

// ObserveFetchAttempt counts one content fetch attempt; retry marks attempts
// after the first.
func ObserveFetchAttempt(site string, retry bool) {
	Init()
	s := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(s).Inc()
	if retry {
		fetchRetriesTotal.WithLabelValues(s).Inc()
	}
}

// ObserveFetchResult records a final content fetch outcome.
func ObserveFetchResult(site string, success bool, bytesFetched int) {
	Init()
	s := SanitizeSite(site)
	status := "failure"
	if success {
		status = "success"
	}
	fetchResultsTotal.WithLabelValues(s, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(s).Add(float64(bytesFetched))
	}
}

// ObserveExtraction records a structured extraction outcome
// ("applied", "failed", "skipped").
func ObserveExtraction(outcome string) {
	Init()
	extractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
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

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
