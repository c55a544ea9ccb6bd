package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// EntryPrefix is the backend key prefix of stored responses.
// Layout: c/<version>/<partition>/<METHOD> <url>
const EntryPrefix = "c/"

const (
	// DefaultWriteTimeout bounds a single backend write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMaxPendingWrites caps the backend writes waiting for the
	// writer. Writes beyond it are dropped and counted as persist errors.
	DefaultMaxPendingWrites = 65536
)

var (
	// ErrStalePartition is returned when writing to a partition that does not
	// belong to the current build version.
	ErrStalePartition = errors.New("cache: partition does not belong to the current version")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("cache: store closed")
)

// Options configures a Store.
type Options struct {
	// Backend persists entries across restarts (required).
	Backend storage.Backend

	// Version is the initial build version.
	Version string

	// WriteTimeout bounds each backend write (default: 5s).
	WriteTimeout time.Duration

	// MaxPendingWrites caps queued backend writes (default: 65536).
	MaxPendingWrites int

	// Now overrides the clock, used by tests.
	Now func() time.Time

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// Store is the partitioned response store.
//
// Lookups are served from memory. Writes update memory synchronously and
// are persisted in order by a single background writer; neither ever waits
// for the backend.
type Store struct {
	backend      storage.Backend
	now          func() time.Time
	logger       zerolog.Logger
	writeTimeout time.Duration
	maxPending   int

	mu         sync.RWMutex
	version    string
	partitions map[string]*partition
	// retired holds names removed by a cutover so late writes cannot
	// recreate them under the new version.
	retired map[string]struct{}

	pendMu      sync.Mutex
	pending     []writeOp
	pendClosed  bool
	overflowing bool
	wake        chan struct{}
	done        chan struct{}
}

// partition holds the entries of one versioned partition in insertion order.
type partition struct {
	version string

	mu      sync.Mutex
	entries map[Key]*list.Element
	order   *list.List
	removed bool
}

func newPartition(version string) *partition {
	return &partition{
		version: version,
		entries: make(map[Key]*list.Element),
		order:   list.New(),
	}
}

type opKind int

const (
	opPut opKind = iota
	opDelete
	opFlush
)

type writeOp struct {
	kind    opKind
	key     string
	value   []byte
	flushed chan struct{}
}

// NewStore creates a store and starts its writer.
func NewStore(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("cache: backend is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxPendingWrites <= 0 {
		opts.MaxPendingWrites = DefaultMaxPendingWrites
	}
	logger := logging.NewLogger(logging.ComponentCache)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Store{
		backend:      opts.Backend,
		now:          opts.Now,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		maxPending:   opts.MaxPendingWrites,
		version:      opts.Version,
		partitions:   make(map[string]*partition),
		retired:      make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go s.writerLoop()
	return s, nil
}

// PartitionName builds the versioned partition name for a logical name.
func PartitionName(logical, version string) string {
	return logical + "-" + version
}

// namedFor reports whether name can be a partition of version. Names are
// ambiguous ("a-b" + "-1" == "a" + "-b-1"), so this only guards creation;
// membership is decided by the version recorded on each partition.
func namedFor(name, version string) bool {
	suffix := "-" + version
	return len(name) > len(suffix) && strings.HasSuffix(name, suffix)
}

func storageKey(version, partition string, key Key) string {
	return EntryPrefix + version + "/" + partition + "/" + key.String()
}

// parseStorageKey splits a backend key into its version and partition.
func parseStorageKey(key string) (version, partition string, ok bool) {
	rest, ok := strings.CutPrefix(key, EntryPrefix)
	if !ok {
		return "", "", false
	}
	version, rest, ok = strings.Cut(rest, "/")
	if !ok {
		return "", "", false
	}
	partition, _, ok = strings.Cut(rest, "/")
	return version, partition, ok
}

// Version returns the current build version.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Ping checks the persistence backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// PartitionName returns the partition of logical for the current version.
func (s *Store) PartitionName(logical string) string {
	return PartitionName(logical, s.Version())
}

// Get returns the entry stored under key. It never blocks on I/O.
func (s *Store) Get(name string, key Key) (*Entry, bool) {
	s.mu.RLock()
	p := s.partitions[name]
	s.mu.RUnlock()

	if p != nil {
		p.mu.Lock()
		el, ok := p.entries[key]
		p.mu.Unlock()
		if ok {
			CacheHits.WithLabelValues(name).Inc()
			return el.Value.(*Entry), true
		}
	}
	CacheMisses.WithLabelValues(name).Inc()
	return nil, false
}

// IsFresh reports whether entry is younger than ttl according to the
// store's clock.
func (s *Store) IsFresh(entry *Entry, ttl time.Duration) bool {
	return entry.IsFresh(ttl, s.now())
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// Put stores entry in the named partition, replacing any entry with the
// same key. When maxEntries > 0 the oldest inserted entries are evicted
// until the partition holds at most maxEntries.
//
// Persistence happens asynchronously; backend failures are logged and do
// not fail the call.
func (s *Store) Put(name string, entry *Entry, maxEntries int) error {
	p, err := s.writablePartition(name)
	if err != nil {
		return err
	}

	stored := *entry
	stored.Partition = name
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	// enqueue only appends to the pending list, so calling it under p.mu
	// never blocks Get and keeps backend order equal to memory order.
	p.mu.Lock()
	defer p.mu.Unlock()

	// A cutover may have retired the partition after it was looked up.
	if p.removed {
		return ErrStalePartition
	}

	if el, ok := p.entries[stored.Key]; ok {
		p.order.Remove(el)
	}
	p.entries[stored.Key] = p.order.PushBack(&stored)
	s.enqueue(writeOp{kind: opPut, key: storageKey(p.version, name, stored.Key), value: data})

	for maxEntries > 0 && p.order.Len() > maxEntries {
		front := p.order.Front()
		old := front.Value.(*Entry)
		p.order.Remove(front)
		delete(p.entries, old.Key)
		CacheEvictions.WithLabelValues(name).Inc()
		s.enqueue(writeOp{kind: opDelete, key: storageKey(p.version, name, old.Key)})

		s.logger.Debug().
			Str("partition", name).
			Str("key", old.Key.String()).
			Msg("Evicted oldest entry")
	}
	CacheEntries.WithLabelValues(name).Set(float64(p.order.Len()))

	return nil
}

func (s *Store) writablePartition(name string) (*partition, error) {
	s.mu.RLock()
	p, ok := s.partitions[name]
	current := ok && p.version == s.version
	s.mu.RUnlock()
	if current {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[name]; ok && p.version == s.version {
		return p, nil
	}
	if _, gone := s.retired[name]; gone || !namedFor(name, s.version) {
		return nil, ErrStalePartition
	}
	p = newPartition(s.version)
	s.partitions[name] = p
	return p, nil
}

// EnsurePartition creates the partition for the current version if missing.
func (s *Store) EnsurePartition(name string) error {
	_, err := s.writablePartition(name)
	return err
}

// Partitions returns the names of all in-memory partitions, sorted.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries in the named partition.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	p := s.partitions[name]
	s.mu.RUnlock()
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Keys returns the keys of the named partition in insertion order.
func (s *Store) Keys(name string) []Key {
	s.mu.RLock()
	p := s.partitions[name]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]Key, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry).Key)
	}
	return keys
}

// Load rebuilds the in-memory index from the backend. Only partitions of
// the current version are loaded; entries that fail to decode are skipped.
func (s *Store) Load(ctx context.Context) error {
	version := s.Version()
	loaded := make(map[string][]*Entry)
	skipped := 0

	err := s.backend.Scan(ctx, EntryPrefix+version+"/", func(key string, value []byte) error {
		v, name, ok := parseStorageKey(key)
		if !ok || v != version {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			skipped++
			return nil
		}
		e.Partition = name
		loaded[name] = append(loaded[name], &e)
		return nil
	})
	if err != nil {
		PersistErrors.WithLabelValues("load").Inc()
		return fmt.Errorf("load cache entries: %w", err)
	}

	total := 0
	s.mu.Lock()
	for name, entries := range loaded {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].StoredAt.Before(entries[j].StoredAt)
		})
		p := newPartition(version)
		for _, e := range entries {
			if el, ok := p.entries[e.Key]; ok {
				p.order.Remove(el)
			}
			p.entries[e.Key] = p.order.PushBack(e)
		}
		s.partitions[name] = p
		CacheEntries.WithLabelValues(name).Set(float64(p.order.Len()))
		total += p.order.Len()
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("version", version).
		Int("partitions", len(loaded)).
		Int("entries", total).
		Int("skipped", skipped).
		Msg("Cache store loaded")

	return nil
}

// Cutover switches the store to version, creates the partitions of the
// given logical names and deletes every partition that belongs to another
// version, in memory and in the backend. It returns the removed partition
// names.
func (s *Store) Cutover(ctx context.Context, version string, logical []string) ([]string, error) {
	s.mu.Lock()
	s.version = version
	removed := s.retireLocked(version)
	for _, l := range logical {
		name := PartitionName(l, version)
		if _, ok := s.partitions[name]; !ok {
			s.partitions[name] = newPartition(version)
		}
		delete(s.retired, name)
	}
	s.mu.Unlock()

	return s.deleteStale(ctx, version, removed)
}

// DeletePartitionsNotMatching removes every partition that was not created
// for version, in memory and in the backend, and returns the removed names.
func (s *Store) DeletePartitionsNotMatching(ctx context.Context, version string) ([]string, error) {
	s.mu.Lock()
	removed := s.retireLocked(version)
	s.mu.Unlock()

	return s.deleteStale(ctx, version, removed)
}

// retireLocked drops every in-memory partition of another version. s.mu
// must be held.
func (s *Store) retireLocked(version string) map[string]struct{} {
	removed := make(map[string]struct{})
	for name, p := range s.partitions {
		if p.version == version {
			continue
		}
		p.mu.Lock()
		p.removed = true
		p.mu.Unlock()
		delete(s.partitions, name)
		s.retired[name] = struct{}{}
		CacheEntries.DeleteLabelValues(name)
		removed[name] = struct{}{}
	}
	return removed
}

// deleteStale removes the backend entries of every version but version.
func (s *Store) deleteStale(ctx context.Context, version string, removed map[string]struct{}) ([]string, error) {
	// Writes queued before the partitions were retired must land before
	// their prefixes are deleted.
	if err := s.Flush(ctx); err != nil {
		return sortedNames(removed), err
	}

	stale := make(map[string]map[string]struct{})
	err := s.backend.Scan(ctx, EntryPrefix, func(key string, _ []byte) error {
		v, name, ok := parseStorageKey(key)
		if !ok || v == version {
			return nil
		}
		if stale[v] == nil {
			stale[v] = make(map[string]struct{})
		}
		stale[v][name] = struct{}{}
		return nil
	})
	if err != nil {
		PersistErrors.WithLabelValues("delete_prefix").Inc()
		return sortedNames(removed), fmt.Errorf("scan partitions: %w", err)
	}

	for v, names := range stale {
		for name := range names {
			n, err := s.backend.DeletePrefix(ctx, EntryPrefix+v+"/"+name+"/")
			if err != nil {
				PersistErrors.WithLabelValues("delete_prefix").Inc()
				return sortedNames(removed), fmt.Errorf("delete partition %s: %w", name, err)
			}
			removed[name] = struct{}{}
			s.logger.Debug().
				Str("partition", name).
				Str("version", v).
				Int("entries", n).
				Msg("Deleted stale partition")
		}
	}

	names := sortedNames(removed)
	if len(names) > 0 {
		s.logger.Info().
			Str("version", version).
			Strs("removed", names).
			Msg("Removed partitions of other versions")
	}
	return names, nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flush blocks until every write queued before the call reached the
// backend, or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if !s.enqueue(writeOp{kind: opFlush, flushed: flushed}) {
		return nil
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes and stops the writer. The backend is owned by
// the caller and stays open.
func (s *Store) Close() error {
	s.pendMu.Lock()
	s.pendClosed = true
	s.pendMu.Unlock()
	s.signal()

	<-s.done
	return nil
}

// enqueue appends op to the pending writes without waiting. Puts and
// deletes beyond maxPending are dropped as soft persistence failures; a
// flush marker is always queued. It reports whether op was queued.
func (s *Store) enqueue(op writeOp) bool {
	s.pendMu.Lock()
	if s.pendClosed {
		s.pendMu.Unlock()
		return false
	}
	if op.kind != opFlush && len(s.pending) >= s.maxPending {
		first := !s.overflowing
		s.overflowing = true
		s.pendMu.Unlock()

		PersistErrors.WithLabelValues("overflow").Inc()
		if first {
			s.logger.Warn().
				Int("pending", s.maxPending).
				Msg("Backend is not keeping up, dropping cache writes")
		}
		return false
	}
	s.pending = append(s.pending, op)
	s.pendMu.Unlock()

	s.signal()
	return true
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) writerLoop() {
	defer close(s.done)

	for {
		s.pendMu.Lock()
		batch := s.pending
		s.pending = nil
		s.overflowing = false
		closed := s.pendClosed
		s.pendMu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}

		for _, op := range batch {
			switch op.kind {
			case opFlush:
				close(op.flushed)
			case opPut:
				s.apply("put", op.key, func(ctx context.Context) error {
					return s.backend.Put(ctx, op.key, op.value)
				})
			case opDelete:
				s.apply("delete", op.key, func(ctx context.Context) error {
					return s.backend.Delete(ctx, op.key)
				})
			}
		}
	}
}

func (s *Store) apply(operation, key string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		PersistErrors.WithLabelValues(operation).Inc()
		s.logger.Warn().
			Err(err).
			Str("operation", operation).
			Str("key", key).
			Msg("Cache persistence failed")
	}
}
