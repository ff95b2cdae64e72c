// Package observability exposes the engine's Prometheus instrumentation.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	intercepts *prometheus.CounterVec

	cacheOps        *prometheus.CounterVec
	cacheOpDuration *prometheus.HistogramVec
	cacheResults    *prometheus.CounterVec

	prefetchTiles *prometheus.CounterVec

	notifications *prometheus.CounterVec

	buildInfo *prometheus.GaugeVec
}

var (
	mu sync.RWMutex
	ms *metricSet
)

// Init builds the metric set and registers it with r. Call once per
// process (or per test registry); before Init every observe is a no-op.
func Init(r prometheus.Registerer) {
	m := &metricSet{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		intercepts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intercept_requests_total",
				Help: "Intercepted requests by resource class and outcome.",
			},
			[]string{"class", "outcome"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_op_total",
				Help: "Cache store operations by result.",
			},
			[]string{"op", "result"},
		),
		cacheOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cache_op_duration_seconds",
				Help:    "Duration of cache store operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
		cacheResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_results_total",
				Help: "Cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		prefetchTiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetch_tiles_total",
				Help: "Tiles handled during bulk prefetch by result.",
			},
			[]string{"result"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Notifications by kind and result.",
			},
			[]string{"kind", "result"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "app_build_info",
				Help: "Build information for the binary.",
			},
			[]string{"version"},
		),
	}
	if r != nil {
		r.MustRegister(
			m.httpRequests, m.httpDuration, m.intercepts,
			m.cacheOps, m.cacheOpDuration, m.cacheResults,
			m.prefetchTiles, m.notifications, m.buildInfo,
		)
	}
	mu.Lock()
	ms = m
	mu.Unlock()
}

func get() *metricSet {
	mu.RLock()
	defer mu.RUnlock()
	return ms
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := get()
	if m == nil {
		return
	}
	st := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, st).Inc()
	m.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveIntercept(class, outcome string) {
	m := get()
	if m == nil {
		return
	}
	m.intercepts.WithLabelValues(class, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	m := get()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheOps.WithLabelValues(op, result).Inc()
	m.cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit() {
	if m := get(); m != nil {
		m.cacheResults.WithLabelValues("hit").Inc()
	}
}

func IncCacheMiss() {
	if m := get(); m != nil {
		m.cacheResults.WithLabelValues("miss").Inc()
	}
}

func IncPrefetchTile(err error) {
	m := get()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.prefetchTiles.WithLabelValues(result).Inc()
}

func IncNotification(kind, result string) {
	if m := get(); m != nil {
		m.notifications.WithLabelValues(kind, result).Inc()
	}
}

func ExposeBuildInfo(version string) {
	m := get()
	if m == nil {
		return
	}
	if version == "" {
		version = "dev"
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}
