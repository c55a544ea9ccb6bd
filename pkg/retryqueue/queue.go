// Package retryqueue persists mutating requests that could not be delivered
// and redrives them later. Items are stored in a storage.Backend under
// "q/<id>" so they survive restarts; delivery is at-least-once.
package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// ItemPrefix is the backend key prefix of queued items.
const ItemPrefix = "q/"

var (
	// ErrExpired is reported for items older than MaxAge.
	ErrExpired = errors.New("retry item expired")

	// ErrRejected is reported for items the origin answered with a 4xx.
	ErrRejected = errors.New("retry item rejected by origin")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("retry queue closed")
)

// Item is a queued mutating request.
type Item struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Method     string      `json:"method"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempts   int         `json:"attempts"`
}

// Request converts the item back to an origin request.
func (it Item) Request() fetch.Request {
	return fetch.Request{
		Method: it.Method,
		URL:    it.URL,
		Header: it.Header.Clone(),
		Body:   it.Body,
	}
}

// Sender performs a single delivery attempt.
type Sender interface {
	Attempt(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// Reporter is told about items that are given up on.
type Reporter interface {
	Dropped(item Item, reason error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(item Item, reason error)

// Dropped implements Reporter.
func (f ReporterFunc) Dropped(item Item, reason error) { f(item, reason) }

// Config holds queue timing.
type Config struct {
	// MaxAge is how long an item is redriven before it is dropped.
	MaxAge time.Duration `yaml:"maxAge"`

	// DrainInterval is the period of the background drain started by Start.
	DrainInterval time.Duration `yaml:"drainInterval"`

	// RetryDelay is how long after a pass that left items behind the next
	// pass runs.
	RetryDelay time.Duration `yaml:"retryDelay"`

	// Concurrency bounds parallel deliveries within a pass. 1 keeps
	// deliveries in enqueue order.
	Concurrency int `yaml:"concurrency"`

	// StripHeaders are removed from a request before it is persisted.
	// Items are stored unencrypted, so credentials listed here never reach
	// the backend; a redrive is sent without them. Nil selects the default.
	StripHeaders []string `yaml:"stripHeaders"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:        24 * time.Hour,
		DrainInterval: 30 * time.Second,
		RetryDelay:    15 * time.Second,
		Concurrency:   1,
		StripHeaders:  []string{"Proxy-Authorization"},
	}
}

// Options configures a Queue.
type Options struct {
	Backend  storage.Backend
	Sender   Sender
	Reporter Reporter
	Config   Config
	Now      func() time.Time
	Logger   *zerolog.Logger
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	Delivered int
	Requeued  int
	Dropped   int
}

// Queue is the durable retry queue.
type Queue struct {
	backend  storage.Backend
	sender   Sender
	reporter Reporter
	config   Config
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	items  []Item
	closed bool

	// drainMu serializes drain passes.
	drainMu sync.Mutex

	timerMu sync.Mutex
	timer   *time.Timer

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a queue. Call Load to restore persisted items.
func New(opts Options) (*Queue, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("retryqueue: backend is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("retryqueue: sender is required")
	}

	def := DefaultConfig()
	if opts.Config.MaxAge <= 0 {
		opts.Config.MaxAge = def.MaxAge
	}
	if opts.Config.DrainInterval <= 0 {
		opts.Config.DrainInterval = def.DrainInterval
	}
	if opts.Config.RetryDelay <= 0 {
		opts.Config.RetryDelay = def.RetryDelay
	}
	if opts.Config.Concurrency < 1 {
		opts.Config.Concurrency = def.Concurrency
	}
	if opts.Config.StripHeaders == nil {
		opts.Config.StripHeaders = def.StripHeaders
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := logging.NewLogger(logging.ComponentRetryQueue)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	q := &Queue{
		backend:  opts.Backend,
		sender:   opts.Sender,
		reporter: opts.Reporter,
		config:   opts.Config,
		now:      opts.Now,
		logger:   logger,
	}
	q.bgCtx, q.bgCancel = context.WithCancel(context.Background())
	return q, nil
}

// SetSender replaces the delivery sender. It exists so the queue and the
// fetcher, which depend on each other, can be wired after construction.
func (q *Queue) SetSender(s Sender) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sender = s
}

// Enqueue adds item to the tail of the queue and persists it. Missing IDs
// and enqueue times are filled in and the configured StripHeaders removed.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	item.Header = q.stripHeaders(item.Header)
	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.now()
	}
	if item.Method == "" {
		item.Method = http.MethodPost
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
	q.persist(ctx, item)

	q.logger.Info().
		Str("item_id", item.ID).
		Str("method", item.Method).
		Str("url", item.URL).
		Int("depth", depth).
		Msg("Request queued for redrive")

	return nil
}

// EnqueueRequest implements fetch.Enqueuer.
func (q *Queue) EnqueueRequest(ctx context.Context, req fetch.Request) error {
	return q.Enqueue(ctx, Item{
		URL:    req.URL,
		Method: req.Method,
		Header: req.Header,
		Body:   req.Body,
	})
}

// stripHeaders returns a copy of h without the configured headers.
func (q *Queue) stripHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := h.Clone()
	for _, name := range q.config.StripHeaders {
		out.Del(name)
	}
	return out
}

// Items returns a snapshot of the queued items in order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Load restores persisted items, ordered by ID. Items already in memory are
// kept after the restored ones.
func (q *Queue) Load(ctx context.Context) error {
	var loaded []Item
	err := q.backend.Scan(ctx, ItemPrefix, func(key string, value []byte) error {
		var it Item
		if err := json.Unmarshal(value, &it); err != nil {
			q.logger.Warn().Err(err).Str("key", key).Msg("Skipping undecodable queue item")
			return nil
		}
		loaded = append(loaded, it)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load retry queue: %w", err)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })

	q.mu.Lock()
	seen := make(map[string]bool, len(loaded))
	for _, it := range loaded {
		seen[it.ID] = true
	}
	for _, it := range q.items {
		if !seen[it.ID] {
			loaded = append(loaded, it)
		}
	}
	q.items = loaded
	depth := len(q.items)
	q.mu.Unlock()

	queueDepth.Set(float64(depth))
	q.logger.Info().Int("items", depth).Msg("Retry queue loaded")
	return nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRequeued
	outcomeDropped
)

type result struct {
	item    Item
	outcome outcome
	reason  error
}

// Drain runs one redrive pass: the queue is snapshotted and cleared, expired
// items are dropped without a delivery attempt and every other item is
// attempted once. Failed items are requeued with Attempts+1 while they are
// younger than MaxAge. If items remain afterwards another pass is scheduled
// after RetryDelay.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	batch := q.items
	q.items = nil
	sender := q.sender
	q.mu.Unlock()

	if len(batch) == 0 {
		return DrainResult{}, nil
	}

	results := make([]result, len(batch))
	start := q.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.config.Concurrency)

	for i, it := range batch {
		if q.expired(it, start) {
			results[i] = result{item: it, outcome: outcomeDropped, reason: ErrExpired}
			continue
		}
		i, it := i, it
		g.Go(func() error {
			results[i] = q.deliver(gctx, sender, it)
			// Failures never cancel the rest of the pass.
			return nil
		})
	}
	_ = g.Wait()

	var res DrainResult
	var requeued []Item
	for _, r := range results {
		switch r.outcome {
		case outcomeDelivered:
			res.Delivered++
			itemsDelivered.Inc()
			q.remove(ctx, r.item)
		case outcomeRequeued:
			res.Requeued++
			itemsRequeued.Inc()
			requeued = append(requeued, r.item)
			q.persist(ctx, r.item)
		case outcomeDropped:
			res.Dropped++
			q.drop(ctx, r.item, r.reason)
		}
	}

	q.mu.Lock()
	// Requeued items keep their place ahead of items enqueued during the pass.
	q.items = append(requeued, q.items...)
	remaining := len(q.items)
	q.mu.Unlock()
	queueDepth.Set(float64(remaining))

	event := q.logger.Debug()
	if res.Delivered > 0 || res.Dropped > 0 {
		event = q.logger.Info()
	}
	event.
		Int("delivered", res.Delivered).
		Int("requeued", res.Requeued).
		Int("dropped", res.Dropped).
		Int("remaining", remaining).
		Msg("Retry queue drained")

	if remaining > 0 {
		q.scheduleDrain()
	}

	return res, nil
}

func (q *Queue) expired(it Item, now time.Time) bool {
	return now.Sub(it.EnqueuedAt) > q.config.MaxAge
}

func (q *Queue) deliver(ctx context.Context, sender Sender, it Item) result {
	resp, err := sender.Attempt(ctx, it.Request())
	if err == nil {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return result{item: it, outcome: outcomeDropped, reason: fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)}
		}
		return result{item: it, outcome: outcomeDelivered}
	}

	it.Attempts++
	q.logger.Debug().
		Err(err).
		Str("item_id", it.ID).
		Int("attempts", it.Attempts).
		Msg("Redrive attempt failed")

	if q.expired(it, q.now()) {
		return result{item: it, outcome: outcomeDropped, reason: ErrExpired}
	}
	return result{item: it, outcome: outcomeRequeued}
}

func (q *Queue) drop(ctx context.Context, it Item, reason error) {
	label := "expired"
	if errors.Is(reason, ErrRejected) {
		label = "rejected"
	}
	itemsDropped.WithLabelValues(label).Inc()
	q.remove(ctx, it)

	q.logger.Warn().
		Err(reason).
		Str("item_id", it.ID).
		Str("method", it.Method).
		Str("url", it.URL).
		Int("attempts", it.Attempts).
		Time("enqueued_at", it.EnqueuedAt).
		Msg("Dropped queued request")

	if q.reporter != nil {
		q.reporter.Dropped(it, reason)
	}
}

func (q *Queue) persist(ctx context.Context, it Item) {
	data, err := json.Marshal(it)
	if err == nil {
		err = q.backend.Put(context.WithoutCancel(ctx), ItemPrefix+it.ID, data)
	}
	if err != nil {
		persistErrors.Inc()
		q.logger.Warn().Err(err).Str("item_id", it.ID).Msg("Failed to persist queue item")
	}
}

func (q *Queue) remove(ctx context.Context, it Item) {
	if err := q.backend.Delete(context.WithoutCancel(ctx), ItemPrefix+it.ID); err != nil {
		persistErrors.Inc()
		q.logger.Warn().Err(err).Str("item_id", it.ID).Msg("Failed to delete queue item")
	}
}

// DrainAsync starts a drain pass in the background.
func (q *Queue) DrainAsync(reason string) {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	q.goDrainLocked(reason)
}

// goDrainLocked must be called with timerMu held.
func (q *Queue) goDrainLocked(reason string) {
	if q.bgCtx.Err() != nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Drain(q.bgCtx); err != nil {
			q.logger.Error().Err(err).Str("trigger", reason).Msg("Background drain failed")
		}
	}()
}

// scheduleDrain arranges a pass after RetryDelay, replacing a pending one.
func (q *Queue) scheduleDrain() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.bgCtx.Err() != nil {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(q.config.RetryDelay, func() {
		q.timerMu.Lock()
		defer q.timerMu.Unlock()
		q.goDrainLocked("scheduled")
	})
}

// Start runs a drain every DrainInterval while items are queued, until ctx
// is done or the queue is closed.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.bgCtx.Done():
				return
			case <-ticker.C:
				if q.Len() == 0 {
					continue
				}
				if _, err := q.Drain(q.bgCtx); err != nil {
					q.logger.Error().Err(err).Msg("Periodic drain failed")
				}
			}
		}
	}()
}

// Close stops background drains and waits for running passes. Queued items
// stay persisted.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.timerMu.Lock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.bgCancel()
	q.timerMu.Unlock()

	q.wg.Wait()
	return nil
}
