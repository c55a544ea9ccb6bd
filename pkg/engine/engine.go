// Package engine ties the cache engine together. Handle is the single
// request entry point: it classifies the request, runs the policy's
// strategy against the cache store and the origin fetcher, and degrades to
// stale or synthesized responses instead of failing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/cache"
	"github.com/Sternrassler/cachegate/pkg/connectivity"
	"github.com/Sternrassler/cachegate/pkg/dedup"
	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/lifecycle"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/offline"
	"github.com/Sternrassler/cachegate/pkg/policy"
	"github.com/Sternrassler/cachegate/pkg/precache"
	"github.com/Sternrassler/cachegate/pkg/retryqueue"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// DefaultMaxBackground bounds concurrent background revalidations.
const DefaultMaxBackground = 16

// Options configures an Engine.
type Options struct {
	// Backend persists cache entries, queue items and connectivity state
	// (required). The engine does not close it.
	Backend storage.Backend

	// BuildVersion is the deployment version partitions are scoped to
	// (required).
	BuildVersion string

	// Classifier maps requests to policies. Nil serves everything with the
	// default policy.
	Classifier *policy.Classifier

	// Fetch configures the origin fetcher. The zero value selects
	// fetch.DefaultConfig().
	Fetch fetch.Config

	// HTTPClient overrides the fetcher's HTTP client.
	HTTPClient *http.Client

	// Queue configures the retry queue.
	Queue retryqueue.Config

	// Reporter is told about dropped queue items.
	Reporter retryqueue.Reporter

	// Precache configures the deploy-time warmer and PrecacheURLs lists the
	// absolute URLs it fetches.
	Precache     precache.Config
	PrecacheURLs []string

	// Offline synthesizes fallback responses. Nil uses the built-in pages.
	Offline *offline.Responder

	// MaxBackground bounds concurrent background revalidations.
	MaxBackground int

	// OfflineAfterFailures is the number of consecutive connectivity
	// failures after which the origin is considered offline.
	OfflineAfterFailures int

	// Sleeper and Now override backoff sleeping and the clock (for testing).
	Sleeper fetch.Sleeper
	Now     func() time.Time

	// Logger is the base logger components derive from.
	Logger *zerolog.Logger
}

// Engine is a request cache engine instance. It is safe for concurrent use.
type Engine struct {
	classifier *policy.Classifier
	store      *cache.Store
	fetcher    *fetch.Fetcher
	queue      *retryqueue.Queue
	tracker    *connectivity.Tracker
	lifecycle  *lifecycle.Manager
	offline    *offline.Responder
	inflight   *dedup.Coordinator[*fetch.Response]
	logger     zerolog.Logger

	// deployMu is held shared while a request resolves its partition and
	// exclusively by OnDeploy, so no request picks a partition mid-cutover.
	// Fetches run outside it: a write landing after a cutover fails with
	// cache.ErrStalePartition.
	deployMu sync.RWMutex

	bgSem    chan struct{}
	bgWG     sync.WaitGroup
	bgMu     sync.Mutex // guards bgClosed and bgWG.Add against Close
	bgClosed bool
	bgCtx    context.Context
	bgCancel context.CancelFunc

	closeOnce sync.Once
}

// New builds an engine: it loads the persisted cache, queue and
// connectivity state, then cuts over to BuildVersion and precaches.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("engine: backend is required")
	}
	if err := lifecycle.ValidateVersion(opts.BuildVersion); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.Classifier == nil {
		opts.Classifier = policy.NewClassifier(nil, policy.Default())
	}
	if opts.Fetch == (fetch.Config{}) {
		opts.Fetch = fetch.DefaultConfig()
	}
	if opts.Offline == nil {
		opts.Offline = offline.New(nil, nil)
	}
	if opts.MaxBackground <= 0 {
		opts.MaxBackground = DefaultMaxBackground
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	// Every component gets its own child of opts.Logger.
	child := func(component string) *zerolog.Logger {
		l := logging.NewLogger(component)
		if opts.Logger != nil {
			l = opts.Logger.With().Str("component", component).Logger()
		}
		return &l
	}
	logger := *child(logging.ComponentEngine)

	store, err := cache.NewStore(cache.Options{
		Backend: opts.Backend,
		Version: opts.BuildVersion,
		Now:     opts.Now,
		Logger:  child(logging.ComponentCache),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := store.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load cache store, starting empty")
	}

	fetcher, err := fetch.New(opts.Fetch)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: fetcher: %w", err)
	}
	fetcher.SetLogger(*child(logging.ComponentFetch))
	if opts.HTTPClient != nil {
		fetcher.SetHTTPClient(opts.HTTPClient)
	}
	if opts.Sleeper != nil {
		fetcher.SetSleeper(opts.Sleeper)
	}

	tracker := connectivity.NewTracker(opts.OfflineAfterFailures, *child(logging.ComponentConnectivity))
	tracker.SetClock(opts.Now)
	tracker.SetBackend(opts.Backend)
	if err := tracker.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load connectivity state")
	}
	fetcher.SetObserver(tracker)

	queue, err := retryqueue.New(retryqueue.Options{
		Backend:  opts.Backend,
		Sender:   fetcher,
		Reporter: opts.Reporter,
		Config:   opts.Queue,
		Now:      opts.Now,
		Logger:   child(logging.ComponentRetryQueue),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := queue.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load retry queue")
	}
	fetcher.SetEnqueuer(queue)

	e := &Engine{
		classifier: opts.Classifier,
		store:      store,
		fetcher:    fetcher,
		queue:      queue,
		tracker:    tracker,
		offline:    opts.Offline,
		inflight:   dedup.New[*fetch.Response](),
		logger:     logger,
		bgSem:      make(chan struct{}, opts.MaxBackground),
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())

	warmer := precache.NewWarmer(e, opts.Precache, *child(logging.ComponentPrecache))
	e.lifecycle = lifecycle.NewManager(store, opts.Classifier.Partitions(), warmer, opts.PrecacheURLs, *child(logging.ComponentLifecycle))
	tracker.OnRestored(func() { queue.DrainAsync("connectivity restored") })

	if _, err := e.OnDeploy(ctx, opts.BuildVersion); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("engine: startup cutover: %w", err)
	}

	logger.Info().
		Str("version", opts.BuildVersion).
		Int("policies", len(opts.Classifier.Policies())).
		Int("queued", queue.Len()).
		Msg("Cache engine ready")

	return e, nil
}

// Start runs the periodic retry queue drain until ctx is done or the
// engine is closed. Queued items left from a previous run are drained
// right away.
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx)
	if e.queue.Len() > 0 {
		e.queue.DrainAsync("startup")
	}
}

// NotifyConnectivityRestored tells the engine the network is back. It
// triggers an immediate retry queue drain.
func (e *Engine) NotifyConnectivityRestored() {
	if !e.tracker.Online() {
		// The tracker's restored hook starts the drain.
		e.tracker.SetOnline(true)
		return
	}
	e.queue.DrainAsync("connectivity restored")
}

// DrainQueue runs one retry queue pass synchronously.
func (e *Engine) DrainQueue(ctx context.Context) (retryqueue.DrainResult, error) {
	return e.queue.Drain(ctx)
}

// OnDeploy cuts over to version: partitions of every other version are
// deleted before any further request resolves its partition. Requests
// already fetching are not waited for. Precaching runs after the cutover
// and does not block requests.
func (e *Engine) OnDeploy(ctx context.Context, version string) (lifecycle.Report, error) {
	e.deployMu.Lock()
	report, err := e.lifecycle.Cutover(ctx, version)
	e.deployMu.Unlock()
	if err != nil {
		return report, err
	}

	report.Precache, _ = e.lifecycle.Precache(ctx)
	return report, nil
}

// Prefetch fetches rawURL through its policy and stores the response in
// the policy's current partition. It implements precache.Prefetcher.
func (e *Engine) Prefetch(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("prefetch %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("prefetch %q: url must be absolute", rawURL)
	}

	pol := e.classifier.ClassifyURL(http.MethodGet, u)
	if pol.Strategy == policy.NetworkOnly {
		return fmt.Errorf("prefetch %q: policy %q never caches", rawURL, pol.Name)
	}

	header := make(http.Header)
	req := fetch.Request{
		Method: http.MethodGet,
		URL:    u.String(),
		Header: header,
		Kind:   policy.KindFor(header, u.Path),
	}
	key := cache.NewKey(http.MethodGet, req.URL)
	resp, err := e.fetchAndStore(ctx, pol, e.store.PartitionName(pol.Partition), key, req)
	if err != nil {
		return err
	}
	if !cache.Storable(resp.StatusCode, resp.Header) {
		return fmt.Errorf("prefetch %q: response not cacheable (status %d)", rawURL, resp.StatusCode)
	}
	return nil
}

// Version returns the current build version.
func (e *Engine) Version() string {
	return e.store.Version()
}

// Store returns the cache store.
func (e *Engine) Store() *cache.Store {
	return e.store
}

// Queue returns the retry queue.
func (e *Engine) Queue() *retryqueue.Queue {
	return e.queue
}

// Connectivity returns the connectivity state.
func (e *Engine) Connectivity() connectivity.State {
	return e.tracker.GetState()
}

// Ready reports whether the persistence backend answers.
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// WaitBackground blocks until running background revalidations finish.
func (e *Engine) WaitBackground() {
	e.bgWG.Wait()
}

// Close stops background work, flushes pending cache writes and stops the
// retry queue. Queued items stay persisted.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.bgMu.Lock()
		e.bgClosed = true
		e.bgCancel()
		e.bgMu.Unlock()
		e.bgWG.Wait()
		qerr := e.queue.Close()

		flushCtx, cancel := context.WithTimeout(context.Background(), cache.DefaultWriteTimeout)
		defer cancel()
		ferr := e.store.Flush(flushCtx)
		serr := e.store.Close()
		err = errors.Join(qerr, ferr, serr)
	})
	return err
}
