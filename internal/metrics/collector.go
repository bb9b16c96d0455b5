// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every Prometheus series the service exports.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Hook metrics
	hookInvocationsTotal *prometheus.CounterVec
	hookDuration         prometheus.Histogram

	// Cache metrics
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheFallbacks *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	// Retrieval metrics
	retrievalRequestsTotal *prometheus.CounterVec
	retrievalDuration      *prometheus.HistogramVec
	tierFallbacksTotal     prometheus.Counter

	// Isolation metrics
	isolationsTotal      *prometheus.CounterVec
	isolationTokensSaved prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers every series under namespace on the default
// registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.hookInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_invocations_total",
			Help:      "Total pre-response hook invocations by outcome",
		},
		[]string{"outcome"}, // injected, cache_hit, skipped, empty
	)

	c.hookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Full hook invocation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	c.cacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallbacks_total",
			Help:      "Total operations served by the in-process tier while degraded",
		},
		[]string{"cache"},
	)

	c.cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total entries evicted by the size bound",
		},
		[]string{"cache"},
	)

	c.retrievalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval tier queries",
		},
		[]string{"tier", "status"}, // status: ok, empty, error
	)

	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Per-tier retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"tier"},
	)

	c.tierFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_fallbacks_total",
			Help:      "Times the fallback tier answered because primary was empty or failed",
		},
	)

	c.isolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_isolations_total",
			Help:      "Total tool results isolated, by tool",
		},
		[]string{"tool"},
	)

	c.isolationTokensSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_isolation_tokens_saved_total",
			Help:      "Token count kept out of conversational context by isolation",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordHookInvocation records one hook pass.
func (c *Collector) RecordHookInvocation(outcome string, duration time.Duration) {
	c.hookInvocationsTotal.WithLabelValues(outcome).Inc()
	c.hookDuration.Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the named cache.
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordCacheFallback records an operation served while degraded.
func (c *Collector) RecordCacheFallback(cache string) {
	c.cacheFallbacks.WithLabelValues(cache).Inc()
}

// RecordCacheEviction records entries dropped by the size bound.
func (c *Collector) RecordCacheEviction(cache string, n int) {
	c.cacheEvictions.WithLabelValues(cache).Add(float64(n))
}

// RecordRetrieval records one tier query.
func (c *Collector) RecordRetrieval(tier, status string, duration time.Duration) {
	c.retrievalRequestsTotal.WithLabelValues(tier, status).Inc()
	c.retrievalDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordTierFallback records a fallback-tier answer.
func (c *Collector) RecordTierFallback() {
	c.tierFallbacksTotal.Inc()
}

// RecordIsolation records one isolated tool result and the context
// tokens it saved.
func (c *Collector) RecordIsolation(tool string, fullTokens, summaryTokens int) {
	c.isolationsTotal.WithLabelValues(tool).Inc()
	if saved := fullTokens - summaryTokens; saved > 0 {
		c.isolationTokensSaved.Add(float64(saved))
	}
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
