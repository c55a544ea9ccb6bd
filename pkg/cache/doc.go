// Package cache implements the partitioned response store of cachegate.
//
// The store keeps stored responses in version-scoped partitions named
// "<logical-name>-<build-version>" and provides:
//
//   - O(1) lookups served from an in-memory index (Get never touches the
//     persistence backend or the network)
//   - overwrite-on-put with FIFO eviction once a partition exceeds its
//     maxEntries budget
//   - TTL freshness computed from the entry's storedAt instant
//   - write-behind persistence to a storage.Backend through a single ordered
//     writer; persistence failures are logged and counted, never surfaced to
//     the request path
//   - partition cutover on deploy: partitions of other build versions are
//     removed from memory and from the backend
//
// # Basic Usage
//
//	store, err := cache.NewStore(cache.Options{
//		Backend: backend,
//		Version: "v42",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Load(ctx); err != nil {
//		return err
//	}
//
//	partition := store.PartitionName("static")
//	key := cache.NewKey(http.MethodGet, "https://app.example.com/assets/app.abc123.js")
//
//	entry, ok := store.Get(partition, key)
//	if !ok || !store.IsFresh(entry, time.Hour) {
//		// fetch from origin, then:
//		store.Put(partition, cache.NewEntry(key, http.StatusOK, header, body, time.Now()), 200)
//	}
//
// # Metrics
//
//   - cachegate_cache_hits_total{partition}
//   - cachegate_cache_misses_total{partition}
//   - cachegate_cache_evictions_total{partition}
//   - cachegate_cache_entries{partition}
//   - cachegate_cache_persist_errors_total{operation}
package cache
