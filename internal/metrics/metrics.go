// Package metrics exposes Prometheus collectors for the crawler.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerFetchTotal             *prometheus.CounterVec
	crawlerFetchDurationSeconds   prometheus.Histogram
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerActiveFetches          prometheus.Gauge
	crawlerDuplicatesTotal        *prometheus.CounterVec
	crawlerExportedEntriesTotal   prometheus.Counter
	crawlerShardsFinalizedTotal   prometheus.Counter
	crawlerFrontierURLs           *prometheus.GaugeVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Pages processed by the pipeline, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		crawlerFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_total",
				Help: "Fetch attempts, labeled by status class.",
			},
			[]string{"class"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Latency of individual fetch attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Response bytes downloaded, labeled by domain.",
			},
			[]string{"domain"},
		)

		crawlerActiveFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_fetches",
				Help: "Fetches currently holding a concurrency slot.",
			},
		)

		crawlerDuplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_duplicates_total",
				Help: "Documents rejected as duplicates, labeled by detector tier.",
			},
			[]string{"tier"},
		)

		crawlerExportedEntriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_exported_entries_total",
				Help: "Entries written to JSONL shards.",
			},
		)

		crawlerShardsFinalizedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_shards_finalized_total",
				Help: "Shards sealed with a checksum and renamed into place.",
			},
		)

		crawlerFrontierURLs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_urls",
				Help: "Frontier rows by status as of the last stats sample.",
			},
			[]string{"status"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObservePage counts one processed URL and how it ended.
func ObservePage(domain, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(domain), outcome).Inc()
}

// ObserveFetch records one fetch attempt. A zero status means the request
// never produced a response.
func ObserveFetch(domain string, status int, bytesFetched int, duration time.Duration) {
	Init()
	crawlerFetchTotal.WithLabelValues(statusClass(status)).Inc()
	crawlerFetchDurationSeconds.Observe(duration.Seconds())
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(SanitizeSite(domain)).Add(float64(bytesFetched))
	}
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	Init()
	crawlerActiveFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	Init()
	crawlerActiveFetches.Dec()
}

// ObserveDuplicate counts a duplicate caught by tier.
func ObserveDuplicate(tier string) {
	Init()
	crawlerDuplicatesTotal.WithLabelValues(tier).Inc()
}

// ObserveExport counts entries written to shards.
func ObserveExport(entries int) {
	Init()
	crawlerExportedEntriesTotal.Add(float64(entries))
}

// ObserveShardFinalized counts a sealed shard.
func ObserveShardFinalized() {
	Init()
	crawlerShardsFinalizedTotal.Inc()
}

// SetFrontierSize publishes the frontier row count for status.
func SetFrontierSize(status string, n int64) {
	Init()
	crawlerFrontierURLs.WithLabelValues(status).Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
