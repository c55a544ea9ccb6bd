// Package metrics exposes the Prometheus registry used by cachegate.
// Metrics are defined next to the code that updates them (cache, fetch,
// dedup, engine, retryqueue, connectivity, lifecycle, precache) and are
// registered through promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all cachegate metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Store (pkg/cache):
//   - cachegate_cache_hits_total{partition} (Counter)
//   - cachegate_cache_misses_total{partition} (Counter)
//   - cachegate_cache_evictions_total{partition} (Counter): FIFO evictions over maxEntries
//   - cachegate_cache_entries{partition} (Gauge)
//   - cachegate_cache_persist_errors_total{operation} (Counter): soft backend failures
//
// Origin Fetcher (pkg/fetch):
//   - cachegate_fetch_requests_total{method, status} (Counter)
//   - cachegate_fetch_attempt_duration_seconds{method} (Histogram)
//   - cachegate_fetch_retries_total{error_class} (Counter)
//   - cachegate_fetch_backoff_seconds{error_class} (Histogram)
//   - cachegate_fetch_retry_exhausted_total{error_class} (Counter)
//   - cachegate_fetch_handoffs_total (Counter): mutating requests handed to the retry queue
//
// Dedup Coordinator (pkg/dedup):
//   - cachegate_dedup_shared_total (Counter): callers that joined an in-flight fetch
//
// Strategy Executor (pkg/engine):
//   - cachegate_engine_responses_total{strategy, outcome} (Counter)
//   - cachegate_engine_handle_duration_seconds{strategy} (Histogram)
//   - cachegate_engine_revalidations_total{result} (Counter): ok, error or skipped when the pool is full
//
// Retry Queue (pkg/retryqueue):
//   - cachegate_retryqueue_depth (Gauge)
//   - cachegate_retryqueue_delivered_total (Counter)
//   - cachegate_retryqueue_requeued_total (Counter)
//   - cachegate_retryqueue_dropped_total{reason} (Counter)
//   - cachegate_retryqueue_persist_errors_total (Counter)
//
// Connectivity (pkg/connectivity):
//   - cachegate_connectivity_online (Gauge)
//   - cachegate_connectivity_transitions_total{to} (Counter)
//
// Lifecycle and precache:
//   - cachegate_lifecycle_cutovers_total{direction} (Counter)
//   - cachegate_precache_fetched_total / cachegate_precache_failed_total (Counter)
//
// Example Prometheus Queries:
//
//   # Cache hit rate
//   sum(rate(cachegate_cache_hits_total[5m])) /
//   (sum(rate(cachegate_cache_hits_total[5m])) + sum(rate(cachegate_cache_misses_total[5m])))
//
//   # Offline fallbacks
//   sum(rate(cachegate_engine_responses_total{outcome="offline"}[5m]))
//
//   # Pending mutations
//   cachegate_retryqueue_depth > 0
