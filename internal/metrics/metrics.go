// Package metrics exposes Prometheus collectors for the crawl orchestrator.
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
	frontierEnqueueTotal *prometheus.CounterVec
	frontierDepthGauge   prometheus.Gauge
	pagesTotal           *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	proxyAcquireTotal    *prometheus.CounterVec
	proxyBlacklistTotal  prometheus.Counter
	proxyPoolSize        *prometheus.GaugeVec
	jobsDispatchedTotal  prometheus.Counter
	jobsCompletedTotal   *prometheus.CounterVec
	sessionsActive       prometheus.Gauge

	once        sync.Once
	initialized bool
)

// Init registers the Prometheus collectors. Safe to call multiple times;
// helpers are no-ops until the first call.
func Init() {
	once.Do(func() {
		frontierEnqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_frontier_enqueue_total",
				Help: "Enqueue outcomes, labeled accepted/duplicate/filtered/requeued.",
			},
			[]string{"result"},
		)
		frontierDepthGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawld_frontier_depth",
				Help: "Number of queued (not in-flight) frontier entries.",
			},
		)
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_pages_total",
				Help: "Pages processed, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawld_fetch_duration_seconds",
				Help:    "Histogram of fetch collaborator latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)
		proxyAcquireTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_proxy_acquire_total",
				Help: "Proxy acquisition attempts, labeled ok/unavailable.",
			},
			[]string{"result"},
		)
		proxyBlacklistTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawld_proxy_blacklist_total",
				Help: "Total temporary proxy blacklist events.",
			},
		)
		proxyPoolSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawld_proxy_pool_size",
				Help: "Proxies in the pool, labeled eligible/blacklisted.",
			},
			[]string{"state"},
		)
		jobsDispatchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawld_jobs_dispatched_total",
				Help: "Total scheduler job dispatches.",
			},
		)
		jobsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawld_jobs_completed_total",
				Help: "Job completions, labeled by result.",
			},
			[]string{"result"},
		)
		sessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawld_sessions_active",
				Help: "Crawl sessions currently running or paused.",
			},
		)
		initialized = true
	})
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// FrontierEnqueue counts one enqueue outcome.
func FrontierEnqueue(result string) {
	if !initialized {
		return
	}
	frontierEnqueueTotal.WithLabelValues(result).Inc()
}

// FrontierDepth records the current queue depth.
func FrontierDepth(n int) {
	if !initialized {
		return
	}
	frontierDepthGauge.Set(float64(n))
}

// PageProcessed counts one page reaching a terminal outcome.
func PageProcessed(outcome string) {
	if !initialized {
		return
	}
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchDuration records one fetch latency.
func ObserveFetchDuration(d time.Duration) {
	if !initialized {
		return
	}
	fetchDurationSeconds.Observe(d.Seconds())
}

// ProxyAcquire counts one acquisition attempt.
func ProxyAcquire(result string) {
	if !initialized {
		return
	}
	proxyAcquireTotal.WithLabelValues(result).Inc()
}

// ProxyBlacklisted counts one temporary blacklist event.
func ProxyBlacklisted() {
	if !initialized {
		return
	}
	proxyBlacklistTotal.Inc()
}

// ProxyPoolSize records eligible and blacklisted pool sizes.
func ProxyPoolSize(eligible, blacklisted int) {
	if !initialized {
		return
	}
	proxyPoolSize.WithLabelValues("eligible").Set(float64(eligible))
	proxyPoolSize.WithLabelValues("blacklisted").Set(float64(blacklisted))
}

// JobDispatched counts one scheduler dispatch.
func JobDispatched() {
	if !initialized {
		return
	}
	jobsDispatchedTotal.Inc()
}

// JobCompleted counts one job completion by result.
func JobCompleted(result string) {
	if !initialized {
		return
	}
	jobsCompletedTotal.WithLabelValues(result).Inc()
}

// SessionStarted increments the active session gauge.
func SessionStarted() {
	if !initialized {
		return
	}
	sessionsActive.Inc()
}

// SessionFinished decrements the active session gauge.
func SessionFinished() {
	if !initialized {
		return
	}
	sessionsActive.Dec()
}
