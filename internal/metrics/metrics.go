// Package metrics exposes Prometheus collectors for the scraping pipeline.
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
	urlsTotal             *prometheus.CounterVec
	recordsTotal          *prometheus.CounterVec
	queueRetriesTotal     *prometheus.CounterVec
	apiRequestsTotal      *prometheus.CounterVec
	scrapeDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds prometheus.Histogram
	detailsTotal          *prometheus.CounterVec
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		urlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripscrape_urls_total",
				Help: "Listing URLs processed, labeled by classified outcome.",
			},
			[]string{"outcome"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripscrape_records_total",
				Help: "Restaurant records offered to the directory, labeled by result.",
			},
			[]string{"result"},
		)

		queueRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripscrape_queue_retries_total",
				Help: "Work-queue operations retried after lock contention, labeled by operation.",
			},
			[]string{"op"},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripscrape_api_requests_total",
				Help: "Directory API requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripscrape_scrape_duration_seconds",
				Help:    "Histogram of scraping backend latencies, labeled by capture profile.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"profile"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tripscrape_rate_limit_delay_seconds",
				Help:    "Histogram of client-side pacing waits before scrape calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		detailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripscrape_details_total",
				Help: "Detail pages enriched, labeled by extraction status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tripscrape_active_workers",
				Help: "Number of workers currently processing a listing URL.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveURL counts one listing URL outcome.
func ObserveURL(outcome string) {
	Init()
	urlsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord counts one forwarded record result (ok, duplicate, failed, skipped).
func ObserveRecord(result string) {
	Init()
	recordsTotal.WithLabelValues(result).Inc()
}

// ObserveQueueRetry counts a lock-contention retry of a work-queue operation.
func ObserveQueueRetry(op string) {
	Init()
	queueRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveAPIRequest counts one directory API round trip.
func ObserveAPIRequest(method string, code int) {
	Init()
	apiRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// ObserveScrape records the latency of one scraping backend call.
func ObserveScrape(profile string, duration time.Duration) {
	Init()
	scrapeDurationSeconds.WithLabelValues(profile).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveDetail counts one detail enrichment by extraction status.
func ObserveDetail(status string) {
	Init()
	detailsTotal.WithLabelValues(status).Inc()
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
