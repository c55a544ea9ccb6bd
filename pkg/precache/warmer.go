// Package precache fills freshly cut-over partitions with a configured set
// of URLs (the application shell) using a bounded worker pool.
package precache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	precacheFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_precache_fetched_total",
		Help: "Total URLs stored by the precache warmer",
	})

	precacheFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_precache_failed_total",
		Help: "Total URLs the precache warmer failed to store",
	})
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per URL
	Timeout time.Duration
}

// DefaultConfig returns the default warmer configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// Prefetcher fetches a single URL and stores it.
type Prefetcher interface {
	Prefetch(ctx context.Context, url string) error
}

// Result summarises a warm-up run.
type Result struct {
	Fetched int
	Failed  map[string]error
}

// Warmer fetches URL lists in parallel
type Warmer struct {
	fetcher Prefetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a new warmer
func NewWarmer(fetcher Prefetcher, config Config, logger zerolog.Logger) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// WarmAll fetches every URL using a worker pool. Individual failures are
// collected in the result; the returned error is non-nil only when ctx
// ended before all URLs were processed.
func (w *Warmer) WarmAll(ctx context.Context, urls []string) (Result, error) {
	start := time.Now()
	result := Result{Failed: make(map[string]error)}
	if len(urls) == 0 {
		return result, nil
	}

	queue := make(chan string, len(urls))
	for _, u := range urls {
		queue <- u
	}
	close(queue)

	type urlResult struct {
		url string
		err error
	}
	results := make(chan urlResult, len(urls))

	workers := w.config.MaxConcurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for u := range queue {
				if ctx.Err() != nil {
					w.logger.Debug().Int("worker_id", workerID).Msg("Worker stopping (context cancelled)")
					return
				}
				urlCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
				err := w.fetcher.Prefetch(urlCtx, u)
				cancel()
				results <- urlResult{url: u, err: err}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	for r := range results {
		processed++
		if r.err != nil {
			precacheFailedTotal.Inc()
			result.Failed[r.url] = r.err
			w.logger.Warn().Err(r.err).Str("url", r.url).Msg("Precache fetch failed")
			continue
		}
		precacheFetchedTotal.Inc()
		result.Fetched++
	}

	w.logger.Info().
		Int("fetched", result.Fetched).
		Int("failed", len(result.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Precache complete")

	if processed < len(urls) {
		return result, fmt.Errorf("precache interrupted (%d/%d urls): %w", processed, len(urls), ctx.Err())
	}
	return result, nil
}
