package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that found an entry, by partition
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachegate_cache_hits_total",
			Help: "Total number of cache store hits",
		},
		[]string{"partition"},
	)

	// CacheMisses tracks lookups that found nothing, by partition
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachegate_cache_misses_total",
			Help: "Total number of cache store misses",
		},
		[]string{"partition"},
	)

	// CacheEvictions tracks FIFO evictions after a partition exceeded maxEntries
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachegate_cache_evictions_total",
			Help: "Total number of entries evicted to honour partition budgets",
		},
		[]string{"partition"},
	)

	// CacheEntries tracks the number of entries held per partition
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cachegate_cache_entries",
			Help: "Current number of entries per partition",
		},
		[]string{"partition"},
	)

	// PersistErrors tracks failed backend writes
	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachegate_cache_persist_errors_total",
			Help: "Total number of failed persistence operations",
		},
		[]string{"operation"}, // "put", "delete", "delete_prefix", "load", "overflow"
	)
)
