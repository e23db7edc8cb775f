// Package metrics exposes Prometheus collectors for crawl runs.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	FetchOK         = "ok"
	FetchTimeout    = "timeout"
	FetchHTTPStatus = "http_status"
	FetchNetwork    = "network"
)

// Child index outcomes.
const (
	ChildSucceeded = "succeeded"
	ChildFailed    = "failed"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Registry holds every collector in this package. It is separate from the
// global default registry so the textfile export only carries crawl metrics.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	fetchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemap_fetch_total",
			Help: "Total number of index documents fetched, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchBytesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemap_fetch_bytes_total",
			Help: "Total number of body bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	fetchDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitemap_fetch_duration_seconds",
			Help:    "Histogram of index document fetch latencies, labeled by site.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"site"},
	)

	childIndicesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemap_child_indices_total",
			Help: "Total number of child indices processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	dispatchProgress = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitemap_dispatch_progress",
			Help: "Child indices finished and scheduled in the current dispatch pass.",
		},
		[]string{"state"},
	)

	rateLimitDelaySeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitemap_rate_limit_delay_seconds",
			Help:    "Histogram of per-host rate limit wait durations.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"site"},
	)

	runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitemap_runs_total",
			Help: "Total number of crawl runs, labeled by status.",
		},
		[]string{"status"},
	)

	lastRunIdentifiers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sitemap_last_run_identifiers",
		Help: "Identifiers materialized by the most recent successful run.",
	})

	lastRunDurationSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sitemap_last_run_duration_seconds",
		Help: "Wall time of the most recent successful run.",
	})

	lastRunSuccess = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sitemap_last_run_success",
		Help: "1 if the most recent run materialized its output, 0 otherwise.",
	})

	lastRunTimestampSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sitemap_last_run_timestamp_seconds",
		Help: "Unix time the most recent run finished.",
	})

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests to the metrics listener, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of metrics listener latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)

	once sync.Once
)

// Init registers the Go runtime and process collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
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

// Handler returns an http.Handler exposing Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current state of Registry in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveFetch records one index document fetch.
func ObserveFetch(locator, outcome string, bytesFetched int, duration time.Duration) {
	site := SanitizeSite(locator)
	fetchTotal.WithLabelValues(site, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveChild increments the child index counter for outcome.
func ObserveChild(outcome string) {
	childIndicesTotal.WithLabelValues(outcome).Inc()
}

// SetProgress publishes dispatcher progress.
func SetProgress(done, total int) {
	dispatchProgress.WithLabelValues("done").Set(float64(done))
	dispatchProgress.WithLabelValues("total").Set(float64(total))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(locator string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(locator)).Observe(duration.Seconds())
}

// ObserveRun records the outcome of a crawl run.
func ObserveRun(status string, identifiers int, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	lastRunTimestampSeconds.SetToCurrentTime()
	if status != RunSucceeded {
		lastRunSuccess.Set(0)
		return
	}
	lastRunSuccess.Set(1)
	lastRunIdentifiers.Set(float64(identifiers))
	lastRunDurationSeconds.Set(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
