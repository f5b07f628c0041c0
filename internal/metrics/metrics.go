// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal       *prometheus.CounterVec
	fetchDurationSeconds     *prometheus.HistogramVec
	cacheLookupsTotal        *prometheus.CounterVec
	jobsTotal                *prometheus.CounterVec
	activeJobs               prometheus.Gauge
	politenessDelaySeconds   *prometheus.HistogramVec
	stageDurationSeconds     *prometheus.HistogramVec
	publicationsIndexedTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "douflow_fetch_attempts_total",
				Help: "Total page fetch attempts, labeled by section and outcome.",
			},
			[]string{"section", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "douflow_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by section.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"section"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "douflow_cache_lookups_total",
				Help: "Total content cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "douflow_jobs_total",
				Help: "Total pipeline jobs reaching a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "douflow_active_jobs",
				Help: "Number of jobs currently between submission and a terminal state.",
			},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "douflow_politeness_delay_seconds",
				Help:    "Histogram of politeness wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
			[]string{"host"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "douflow_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		)

		publicationsIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "douflow_publications_indexed_total",
				Help: "Total publications written to the search index.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt and its latency.
func ObserveFetch(section, outcome string, duration time.Duration) {
	fetchAttemptsTotal.WithLabelValues(section, outcome).Inc()
	if outcome == "success" {
		fetchDurationSeconds.WithLabelValues(section).Observe(duration.Seconds())
	}
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveJob increments the terminal-state counter for a job.
func ObserveJob(state string) {
	jobsTotal.WithLabelValues(state).Inc()
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	activeJobs.Dec()
}

// ObservePolitenessDelay records a politeness wait duration.
func ObservePolitenessDelay(host string, duration time.Duration) {
	politenessDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveStage records how long one pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// AddIndexedPublications adds to the indexed publications counter.
func AddIndexedPublications(n int) {
	if n > 0 {
		publicationsIndexedTotal.Add(float64(n))
	}
}
