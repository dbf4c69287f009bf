// Package metrics exposes Prometheus collectors for the lead crawler.
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
	discoveredLinksTotal       *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	enrichmentsTotal           *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	deliveredItemsTotal        *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	ledgerRecords              *prometheus.GaugeVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		discoveredLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_discovered_links_total",
				Help: "Raw links yielded by discovery, labeled by source and strategy kind.",
			},
			[]string{"source", "strategy"},
		)
		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_candidates_total",
				Help: "Candidates surviving each pipeline stage, labeled by source and stage.",
			},
			[]string{"source", "stage"},
		)
		enrichmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_enrichments_total",
				Help: "Enrichment task outcomes, labeled by source and resulting status.",
			},
			[]string{"source", "outcome"},
		)
		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_deliveries_total",
				Help: "Delivery requests, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)
		deliveredItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_delivered_items_total",
				Help: "Leads marked sent after a successful delivery.",
			},
			[]string{"source"},
		)
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_fetches_total",
				Help: "Page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_fetch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		ledgerRecords = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leadcrawler_ledger_records",
				Help: "Ledger records by status after the last save.",
			},
			[]string{"status"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadcrawler_runs_total",
				Help: "Pipeline runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadcrawler_run_duration_seconds",
				Help:    "Wall time of full pipeline runs.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadcrawler_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadcrawler_robots_fallback_total",
				Help: "robots.txt fetches that timed out and fell back to allow-all.",
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

// ObserveDiscovered counts raw links from one strategy.
func ObserveDiscovered(source, strategy string, n int) {
	Init()
	discoveredLinksTotal.WithLabelValues(source, strategy).Add(float64(n))
}

// ObserveStage counts candidates surviving a pipeline stage.
func ObserveStage(source, stage string, n int) {
	Init()
	candidatesTotal.WithLabelValues(source, stage).Add(float64(n))
}

// ObserveEnrichment counts one enrichment outcome.
func ObserveEnrichment(source, outcome string) {
	Init()
	enrichmentsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDelivery counts one delivery request and, on success, its items.
func ObserveDelivery(source string, items int, err error) {
	Init()
	if err != nil {
		deliveriesTotal.WithLabelValues(source, "error").Inc()
		return
	}
	deliveriesTotal.WithLabelValues(source, "success").Inc()
	deliveredItemsTotal.WithLabelValues(source).Add(float64(items))
}

// ObserveFetch counts one page fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// SetLedgerRecords publishes per-status ledger counts.
func SetLedgerRecords(counts map[string]int) {
	Init()
	ledgerRecords.Reset()
	for status, n := range counts {
		ledgerRecords.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveRun records a finished pipeline run.
func ObserveRun(outcome string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts an allow-all robots fallback.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
