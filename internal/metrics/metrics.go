// Package metrics exposes Prometheus collectors for the swimmer crawler.
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
	fetchResultsTotal          *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	entitiesRecordedTotal      prometheus.Counter
	entitiesSkippedTotal       *prometheus.CounterVec
	cooldownsTotal             prometheus.Counter
	crawlState                 *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swimmer_fetch_results_total",
				Help: "Fetch outcomes after local retries, labeled by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swimmer_fetch_bytes_total",
				Help: "Total number of document bytes fetched, labeled by channel.",
			},
			[]string{"channel"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swimmer_ratelimit_wait_seconds",
				Help:    "Histogram of time spent waiting on a channel rate limit.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"channel"},
		)

		entitiesRecordedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swimmer_entities_recorded_total",
				Help: "Swimmers written to the sink and marked complete.",
			},
		)

		entitiesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swimmer_entities_skipped_total",
				Help: "Swimmers skipped during the fetch phase, labeled by reason.",
			},
			[]string{"reason"},
		)

		cooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swimmer_cooldowns_total",
				Help: "Number of cooldowns entered after a block response.",
			},
		)

		crawlState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swimmer_crawl_state",
				Help: "Current crawl engine state; the active state is set to 1.",
			},
			[]string{"state"},
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

// ObserveFetch counts a fetch outcome and the bytes it returned.
func ObserveFetch(channel, outcome string, bytesFetched int) {
	Init()
	fetchResultsTotal.WithLabelValues(channel, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(channel).Add(float64(bytesFetched))
	}
}

// ObserveRateLimitWait records the duration of a rate limit wait.
func ObserveRateLimitWait(channel string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// IncRecorded counts a swimmer persisted to the sink.
func IncRecorded() {
	Init()
	entitiesRecordedTotal.Inc()
}

// IncSkipped counts a swimmer skipped for reason.
func IncSkipped(reason string) {
	Init()
	entitiesSkippedTotal.WithLabelValues(reason).Inc()
}

// IncCooldown counts a cooldown.
func IncCooldown() {
	Init()
	cooldownsTotal.Inc()
}

// SetState marks state as the active crawl state.
func SetState(state string) {
	Init()
	crawlState.Reset()
	crawlState.WithLabelValues(state).Set(1)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
