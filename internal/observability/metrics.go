// Package observability provides the Prometheus metrics, zap logging, and
// OpenTelemetry tracing shared by every ddbsql subsystem. It follows the
// teacher's singleton Collector pattern (internal/infrastructure/observability/metrics.go)
// but scopes the metric surface to what a driver emits: retries, pool
// occupancy, and schema-cache hit rate instead of HTTP/business metrics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics for one driver instance.
type Collector struct {
	// Retry engine (C2)
	RetryAttempts        *prometheus.CounterVec
	RetrySuccessAfterRetry prometheus.Counter
	RetryThrottlingEvents prometheus.Counter
	RetryFatalFailures    prometheus.Counter

	// Connection pool (C11)
	PoolActive prometheus.Gauge
	PoolIdle   prometheus.Gauge
	PoolTotal  prometheus.Gauge
	PoolWaitTimeouts prometheus.Counter

	// Schema cache (C8/C9)
	SchemaCacheHits   prometheus.Counter
	SchemaCacheMisses prometheus.Counter
	SchemaRefreshCount  prometheus.Counter
	SchemaRefreshErrors prometheus.Counter

	// Offset-token cache (C3)
	OffsetCacheHits   prometheus.Counter
	OffsetCacheMisses prometheus.Counter
	OffsetCacheEvictions prometheus.Counter

	registry *prometheus.Registry
	mu       sync.Mutex
}

// NewCollector creates a collector registered into its own registry so that
// multiple *sql.DB instances in the same process don't collide on metric
// registration (mirrors the teacher's per-namespace NewCollector).
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_attempts_total", Help: "Total retry attempts by outcome.",
		}, []string{"outcome"}),
		RetrySuccessAfterRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_success_after_retry_total", Help: "Operations that succeeded only after at least one retry.",
		}),
		RetryThrottlingEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_throttling_events_total", Help: "Throttling responses observed from the remote service.",
		}),
		RetryFatalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_fatal_failures_total", Help: "Operations that exhausted retries or hit a non-retryable error.",
		}),
		PoolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_active_connections", Help: "Connections currently borrowed.",
		}),
		PoolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_idle_connections", Help: "Connections sitting idle in the pool.",
		}),
		PoolTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_total_connections", Help: "Total connections owned by the pool.",
		}),
		PoolWaitTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_wait_timeouts_total", Help: "Borrow calls that timed out waiting for a connection.",
		}),
		SchemaCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "schema_cache_hits_total", Help: "Schema cache hits.",
		}),
		SchemaCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "schema_cache_misses_total", Help: "Schema cache misses.",
		}),
		SchemaRefreshCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "schema_refresh_total", Help: "Background schema refreshes performed.",
		}),
		SchemaRefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "schema_refresh_errors_total", Help: "Background schema refreshes that failed.",
		}),
		OffsetCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offset_cache_hits_total", Help: "Offset-token cache lookups that found a usable entry.",
		}),
		OffsetCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offset_cache_misses_total", Help: "Offset-token cache lookups with no usable entry.",
		}),
		OffsetCacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offset_cache_evictions_total", Help: "Offset-token cache entries evicted for capacity.",
		}),
	}

	registry.MustRegister(
		c.RetryAttempts, c.RetrySuccessAfterRetry, c.RetryThrottlingEvents, c.RetryFatalFailures,
		c.PoolActive, c.PoolIdle, c.PoolTotal, c.PoolWaitTimeouts,
		c.SchemaCacheHits, c.SchemaCacheMisses, c.SchemaRefreshCount, c.SchemaRefreshErrors,
		c.OffsetCacheHits, c.OffsetCacheMisses, c.OffsetCacheEvictions,
	)
	return c
}

// Registry exposes the underlying Prometheus registry so callers can expose
// it on their own /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Noop returns a collector that records metrics but is never exposed; used
// as the default when the caller doesn't wire one in.
func Noop() *Collector { return NewCollector("ddbsql_noop") }
