package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/cachegate/pkg/cache"
	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/offline"
	"github.com/Sternrassler/cachegate/pkg/policy"
)

// Outcome values of the X-Cachegate response header.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeStale      = "stale"
	OutcomeRevalidate = "revalidate"
	OutcomeBypass     = "bypass"
	OutcomeOffline    = offline.OutcomeOffline
	OutcomeQueued     = "queued"
)

// exchange carries one request through its strategy.
type exchange struct {
	req       *http.Request
	out       fetch.Request
	policy    policy.Policy
	strategy  policy.Strategy
	partition string
	key       cache.Key
}

// Handle serves req according to its policy. It never fails: origin and
// cache failures degrade to a stale entry or an offline response, and
// mutating requests handed to the retry queue are acknowledged with 202.
//
// Non-GET requests are always served network-only.
func (e *Engine) Handle(req *http.Request) *http.Response {
	start := time.Now()
	pol := e.classifier.Classify(req)
	strategy := pol.Strategy
	if req.Method != http.MethodGet && req.Method != "" {
		strategy = policy.NetworkOnly
	}

	out, err := fetch.NewRequest(req)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Unreadable request")
		return e.finish(req, start, strategy, e.offline.Respond(req), OutcomeOffline)
	}

	e.deployMu.RLock()
	partition := e.store.PartitionName(pol.Partition)
	e.deployMu.RUnlock()

	x := &exchange{
		req:       req,
		out:       out,
		policy:    pol,
		strategy:  strategy,
		partition: partition,
		key:       cache.NewKey(out.Method, out.URL),
	}

	var resp *http.Response
	var outcome string
	switch strategy {
	case policy.CacheFirst:
		resp, outcome = e.cacheFirst(x)
	case policy.StaleWhileRevalidate:
		resp, outcome = e.staleWhileRevalidate(x)
	case policy.NetworkOnly:
		resp, outcome = e.networkOnly(x)
	case policy.CacheOnly:
		resp, outcome = e.cacheOnly(x)
	default:
		resp, outcome = e.networkFirst(x)
	}
	return e.finish(req, start, strategy, resp, outcome)
}

func (e *Engine) finish(req *http.Request, start time.Time, strategy policy.Strategy, resp *http.Response, outcome string) *http.Response {
	resp.Header.Set(offline.Header, outcome)
	responsesTotal.WithLabelValues(string(strategy), outcome).Inc()
	handleDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())

	e.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("strategy", string(strategy)).
		Str("outcome", outcome).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request served")
	return resp
}

func (e *Engine) cacheFirst(x *exchange) (*http.Response, string) {
	if entry, ok := e.store.Get(x.partition, x.key); ok && e.store.IsFresh(entry, x.policy.TTL) {
		return entry.Response(x.req), OutcomeHit
	}
	resp, err := e.fetchAndStore(x.req.Context(), x.policy, x.partition, x.key, x.out)
	if err != nil {
		return e.fallback(x, err, false)
	}
	return resp.HTTPResponse(x.req), OutcomeMiss
}

func (e *Engine) networkFirst(x *exchange) (*http.Response, string) {
	resp, err := e.fetchAndStore(x.req.Context(), x.policy, x.partition, x.key, x.out)
	if err != nil {
		return e.fallback(x, err, true)
	}
	return resp.HTTPResponse(x.req), OutcomeMiss
}

// staleWhileRevalidate evaluates freshness once, up front. A fresh entry
// is returned immediately while a deduplicated background fetch refreshes
// it.
func (e *Engine) staleWhileRevalidate(x *exchange) (*http.Response, string) {
	entry, ok := e.store.Get(x.partition, x.key)
	if ok && e.store.IsFresh(entry, x.policy.TTL) {
		e.revalidate(x)
		return entry.Response(x.req), OutcomeRevalidate
	}
	resp, err := e.fetchAndStore(x.req.Context(), x.policy, x.partition, x.key, x.out)
	if err != nil {
		return e.fallback(x, err, true)
	}
	return resp.HTTPResponse(x.req), OutcomeMiss
}

func (e *Engine) networkOnly(x *exchange) (*http.Response, string) {
	resp, err := e.fetcher.Fetch(x.req.Context(), x.out)
	if err != nil {
		if errors.Is(err, fetch.ErrQueuedForRetry) {
			return queuedResponse(x.req), OutcomeQueued
		}
		e.logFailure(x, err)
		return e.offline.Respond(x.req), OutcomeOffline
	}
	return resp.HTTPResponse(x.req), OutcomeBypass
}

func (e *Engine) cacheOnly(x *exchange) (*http.Response, string) {
	if entry, ok := e.store.Get(x.partition, x.key); ok {
		return entry.Response(x.req), OutcomeHit
	}
	return e.offline.Respond(x.req), OutcomeOffline
}

// fallback serves a failed fetch: the cached entry when allowed, the
// offline response otherwise.
func (e *Engine) fallback(x *exchange, err error, allowStale bool) (*http.Response, string) {
	e.logFailure(x, err)
	if allowStale {
		if entry, ok := e.store.Get(x.partition, x.key); ok {
			return entry.Response(x.req), OutcomeStale
		}
	}
	return e.offline.Respond(x.req), OutcomeOffline
}

func (e *Engine) logFailure(x *exchange, err error) {
	e.logger.Warn().
		Err(err).
		Str("method", x.out.Method).
		Str("url", x.out.URL).
		Str("strategy", string(x.strategy)).
		Str("error_class", string(fetch.ClassOf(err))).
		Msg("Origin fetch failed")
}

// fetchAndStore fetches through the dedup coordinator so concurrent
// requests for the same key share one origin fetch. Storable responses
// are written to partition; a failed write is logged and the response is
// still returned.
func (e *Engine) fetchAndStore(ctx context.Context, pol policy.Policy, partition string, key cache.Key, req fetch.Request) (*fetch.Response, error) {
	resp, _, err := e.inflight.Do(ctx, partition+"|"+key.String(), func(ctx context.Context) (*fetch.Response, error) {
		resp, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if cache.Storable(resp.StatusCode, resp.Header) {
			entry := cache.NewEntry(key, resp.StatusCode, resp.Header, resp.Body, e.store.Now())
			if err := e.store.Put(partition, entry, pol.MaxEntries); err != nil {
				e.logStoreError(partition, key, err)
			}
		}
		return resp, nil
	})
	return resp, err
}

func (e *Engine) logStoreError(partition string, key cache.Key, err error) {
	event := e.logger.Warn()
	if errors.Is(err, cache.ErrStalePartition) {
		// A fetch that started before a cutover finished after it.
		event = e.logger.Debug()
	}
	event.
		Err(err).
		Str("partition", partition).
		Str("url", key.URL).
		Msg("Response not stored")
}

// revalidate refreshes x in the background. When MaxBackground
// revalidations are already running the refresh is skipped.
func (e *Engine) revalidate(x *exchange) {
	select {
	case e.bgSem <- struct{}{}:
	default:
		revalidationsTotal.WithLabelValues("skipped").Inc()
		e.logger.Debug().Str("url", x.out.URL).Msg("Revalidation skipped, background pool full")
		return
	}
	e.bgMu.Lock()
	if e.bgClosed {
		e.bgMu.Unlock()
		<-e.bgSem
		return
	}
	e.bgWG.Add(1)
	e.bgMu.Unlock()

	go func() {
		defer e.bgWG.Done()
		defer func() { <-e.bgSem }()

		_, err := e.fetchAndStore(e.bgCtx, x.policy, x.partition, x.key, x.out)
		if err != nil {
			revalidationsTotal.WithLabelValues("error").Inc()
			e.logger.Warn().
				Err(err).
				Str("url", x.out.URL).
				Str("partition", x.partition).
				Msg("Background revalidation failed")
			return
		}
		revalidationsTotal.WithLabelValues("ok").Inc()
	}()
}
