// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlItemsProcessedTotal *prometheus.CounterVec
	crawlProgressPercent     prometheus.Gauge
	stopConditionHitsTotal   prometheus.Counter
	fetchDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlItemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_items_processed_total",
				Help: "Total crawl items processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		crawlProgressPercent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_progress_percent",
				Help: "Progress of the active crawl in percent.",
			},
		)
		stopConditionHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_stop_condition_hits_total",
				Help: "Total crawls halted early by the stop condition.",
			},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_fetch_duration_seconds",
				Help:    "Histogram of report fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)
	})
}

// ItemProcessed counts one processed crawl item.
func ItemProcessed(outcome string) {
	if crawlItemsProcessedTotal != nil {
		crawlItemsProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

// SetCrawlProgress records the active crawl's progress percentage.
func SetCrawlProgress(pct float64) {
	if crawlProgressPercent != nil {
		crawlProgressPercent.Set(pct)
	}
}

// StopConditionHit counts one early halt.
func StopConditionHit() {
	if stopConditionHitsTotal != nil {
		stopConditionHitsTotal.Inc()
	}
}

// ObserveFetchDuration records one report fetch latency.
func ObserveFetchDuration(seconds float64, outcome string) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.WithLabelValues(outcome).Observe(seconds)
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
