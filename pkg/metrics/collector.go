// Package metrics exposes Prometheus instrumentation for the analysis cache
// and the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupExpired = "expired"
	LookupError   = "error"
)

// Collector holds the medpassport metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups       *prometheus.CounterVec
	cacheStoreFailures prometheus.Counter
	cacheSwept         prometheus.Counter

	analysisRequests *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	flightShared     prometheus.Counter
}

// New creates a Collector registered on its own registry.
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Analysis cache lookups by result.",
		}, []string{"result"}),
		cacheStoreFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_store_failures_total",
			Help:      "Cache writes that failed and were dropped.",
		}),
		cacheSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_swept_entries_total",
			Help:      "Expired entries physically removed by sweeps.",
		}),
		analysisRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Analysis requests by artifact kind and outcome.",
		}, []string{"kind", "outcome"}),
		analysisDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "External analysis call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		flightShared: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_singleflight_shared_total",
			Help:      "Requests that received the result of another in-flight analysis.",
		}),
	}
}

// CacheLookup counts a lookup with the given result.
func (c *Collector) CacheLookup(result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// CacheStoreFailure counts a dropped cache write.
func (c *Collector) CacheStoreFailure() {
	if c == nil {
		return
	}
	c.cacheStoreFailures.Inc()
}

// CacheSwept counts entries removed by a sweep.
func (c *Collector) CacheSwept(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.cacheSwept.Add(float64(n))
}

// AnalysisCompleted records an analysis request outcome
// ("cached", "fresh", "error").
func (c *Collector) AnalysisCompleted(kind, outcome string) {
	if c == nil {
		return
	}
	c.analysisRequests.WithLabelValues(kind, outcome).Inc()
}

// AnalysisDuration records the duration of an external analysis call.
func (c *Collector) AnalysisDuration(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.analysisDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// FlightShared counts a request served by another request's in-flight call.
func (c *Collector) FlightShared() {
	if c == nil {
		return
	}
	c.flightShared.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
