// Package metrics provides Prometheus instrumentation for the connector
// runtime. Each connector instance owns its own Collector and registry, in
// line with the no-shared-global-state rule; hosts that want one scrape
// endpoint can gather multiple registries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records fetch-path activity for one connector instance.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestLatency prometheus.Histogram
	cacheEvents    *prometheus.CounterVec
	retriesTotal   prometheus.Counter
	rateLimited    prometheus.Counter
}

// NewCollector creates a collector labeled with the connector namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"connector": namespace}

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "krl_connector_requests_total",
			Help:        "Fetches by outcome (success, error, cache_hit).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "krl_connector_request_duration_seconds",
			Help:        "End-to-end fetch latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "krl_connector_cache_events_total",
			Help:        "Cache activity (hit, miss, write).",
			ConstLabels: constLabels,
		}, []string{"event"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "krl_connector_retries_total",
			Help:        "Retry attempts against transient upstream failures.",
			ConstLabels: constLabels,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "krl_connector_rate_limited_total",
			Help:        "Acquisitions that had to wait or fail on the rate budget.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(c.requestsTotal, c.requestLatency, c.cacheEvents, c.retriesTotal, c.rateLimited)
	return c
}

// Registry exposes the instance registry for scraping or gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records one completed fetch with its outcome and latency.
func (c *Collector) RecordRequest(outcome string, elapsed time.Duration) {
	c.requestsTotal.WithLabelValues(outcome).Inc()
	c.requestLatency.Observe(elapsed.Seconds())
}

// RecordCacheEvent records a cache hit, miss, or write.
func (c *Collector) RecordCacheEvent(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
}

// RecordRetry records one retry attempt.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
}

// RecordRateLimited records a blocked or failed permit acquisition.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}
