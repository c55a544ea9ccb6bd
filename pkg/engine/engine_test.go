package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/cachegate/internal/testutil"
	"github.com/Sternrassler/cachegate/pkg/cache"
	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/offline"
	"github.com/Sternrassler/cachegate/pkg/policy"
	"github.com/Sternrassler/cachegate/pkg/retryqueue"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSleeper records backoff delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// switchableTransport fails every round trip while down is set.
type switchableTransport struct {
	down atomic.Bool
	next http.RoundTripper
}

func (t *switchableTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.down.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return t.next.RoundTrip(req)
}

var testPolicies = []policy.Spec{
	{Name: "assets", Match: "PathPrefix(/assets/)", Strategy: "CacheFirst", Partition: "static", TTLSeconds: 31536000, MaxEntries: 100},
	{Name: "feed", Match: "PathPrefix(/api/feed)", Strategy: "StaleWhileRevalidate", Partition: "data", TTLSeconds: 60},
	{Name: "live", Match: "PathPrefix(/api/live)", Strategy: "NetworkOnly", Partition: "data"},
	{Name: "manifest", Match: "PathPrefix(/manifest.json)", Strategy: "CacheOnly", Partition: "static"},
}

type harness struct {
	engine    *Engine
	origin    *testutil.MockOrigin
	backend   *storage.Memory
	clock     *fakeClock
	sleeper   *recordingSleeper
	transport *switchableTransport
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	classifier, err := policy.FromSpecs(testPolicies)
	require.NoError(t, err)

	fetchCfg := fetch.DefaultConfig()
	fetchCfg.Jitter = 0
	fetchCfg.AttemptTimeout = 2 * time.Second

	h := &harness{
		origin:    origin,
		backend:   storage.NewMemory(),
		clock:     &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
		sleeper:   &recordingSleeper{},
		transport: &switchableTransport{next: origin.Client().Transport},
	}

	logger := logging.Nop()
	opts := Options{
		Backend:      h.backend,
		BuildVersion: "v1",
		Classifier:   classifier,
		Fetch:        fetchCfg,
		HTTPClient:   &http.Client{Transport: h.transport},
		Queue:        retryqueue.Config{RetryDelay: time.Hour, DrainInterval: time.Hour},
		Sleeper:      h.sleeper.Sleep,
		Now:          h.clock.Now,
		Logger:       &logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	e, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	h.engine = e
	return h
}

func (h *harness) do(t *testing.T, method, path string, body []byte) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, h.origin.URL()+path, r)
	resp := h.engine.Handle(req)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(payload)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	return h.do(t, http.MethodGet, path, nil)
}

// countingBody answers with a body that changes on every request.
func countingBody(prefix string) func(w http.ResponseWriter, r *http.Request) {
	var n atomic.Int32
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"%s":%d}`, prefix, n.Add(1))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Options{BuildVersion: "v1"})
	assert.Error(t, err, "missing backend")

	_, err = New(context.Background(), Options{Backend: storage.NewMemory()})
	assert.Error(t, err, "missing version")

	_, err = New(context.Background(), Options{Backend: storage.NewMemory(), BuildVersion: "v1/x"})
	assert.Error(t, err, "version with slash")
}

func TestHandle_DedupConcurrentGets(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetResponse("/api/profile", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"name":"ada"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Delay:      200 * time.Millisecond,
	})

	const n = 8
	start := make(chan struct{})
	bodies := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, bodies[i] = h.get(t, "/api/profile")
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, h.origin.PathCount("/api/profile"))
	for _, b := range bodies {
		assert.Equal(t, `{"name":"ada"}`, b)
	}
}

func TestHandle_CacheFirstLongTTL(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetResponse("/assets/app.abc123.js", testutil.NewOKResponse("application/javascript", "console.log(1)"))

	resp, body := h.get(t, "/assets/app.abc123.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.Equal(t, "console.log(1)", body)

	h.clock.Advance(time.Minute)

	resp, body = h.get(t, "/assets/app.abc123.js")
	assert.Equal(t, OutcomeHit, resp.Header.Get(offline.Header))
	assert.Equal(t, "console.log(1)", body)
	assert.NotEmpty(t, resp.Header.Get(cache.StoredAtHeader))
	assert.Equal(t, 1, h.origin.PathCount("/assets/app.abc123.js"))
}

func TestHandle_CacheFirstExpiredRefetches(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetHandler("/assets/logo.svg", countingBody("logo"))

	_, first := h.get(t, "/assets/logo.svg")
	h.clock.Advance(366 * 24 * time.Hour)
	resp, second := h.get(t, "/assets/logo.svg")

	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, h.origin.PathCount("/assets/logo.svg"))
}

func TestHandle_CacheFirstFailureIsOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.get(t, "/assets/app.js")
	h.clock.Advance(366 * 24 * time.Hour)
	h.origin.SetFailing(http.StatusServiceUnavailable)

	resp, _ := h.get(t, "/assets/app.js")
	assert.Equal(t, OutcomeOffline, resp.Header.Get(offline.Header))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandle_StaleWhileRevalidate(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetHandler("/api/feed", countingBody("feed"))

	resp, first := h.get(t, "/api/feed")
	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.Equal(t, `{"feed":1}`, first)
	assert.Equal(t, 1, h.origin.PathCount("/api/feed"))

	resp, second := h.get(t, "/api/feed")
	assert.Equal(t, OutcomeRevalidate, resp.Header.Get(offline.Header))
	assert.Equal(t, first, second, "fresh entry is returned while revalidating")

	h.engine.WaitBackground()
	assert.Equal(t, 2, h.origin.PathCount("/api/feed"), "exactly one background fetch")

	_, third := h.get(t, "/api/feed")
	assert.Equal(t, `{"feed":2}`, third, "background fetch refreshed the entry")
}

func TestHandle_StaleWhileRevalidateSharesBackgroundFetch(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetHandler("/api/feed", countingBody("feed"))
	_, first := h.get(t, "/api/feed")
	require.Equal(t, 1, h.origin.PathCount("/api/feed"))

	release := make(chan struct{})
	h.origin.SetHandler("/api/feed", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"feed":2}`))
	})

	var wg sync.WaitGroup
	outcomes := make([]string, 2)
	bodies := make([]string, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, body := h.get(t, "/api/feed")
			outcomes[i] = resp.Header.Get(offline.Header)
			bodies[i] = body
		}(i)
	}
	wg.Wait()

	// Both refreshes are started; let the second one join the first.
	time.Sleep(100 * time.Millisecond)
	close(release)
	h.engine.WaitBackground()

	assert.Equal(t, []string{OutcomeRevalidate, OutcomeRevalidate}, outcomes)
	assert.Equal(t, []string{first, first}, bodies)
	assert.Equal(t, 2, h.origin.PathCount("/api/feed"), "one shared background fetch")

	_, refreshed := h.get(t, "/api/feed")
	assert.Equal(t, `{"feed":2}`, refreshed)
}

func TestHandle_StaleWhileRevalidateAwaitsStaleEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetHandler("/api/feed", countingBody("feed"))

	h.get(t, "/api/feed")
	h.clock.Advance(2 * time.Minute)

	resp, body := h.get(t, "/api/feed")
	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.Equal(t, `{"feed":2}`, body)

	h.clock.Advance(2 * time.Minute)
	h.origin.SetFailing(http.StatusBadGateway)
	resp, body = h.get(t, "/api/feed")
	assert.Equal(t, OutcomeStale, resp.Header.Get(offline.Header))
	assert.Equal(t, `{"feed":2}`, body)
}

func TestHandle_NetworkFirstFallsBackToStale(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetResponse("/api/me", testutil.NewOKResponse("application/json", `{"id":7}`))

	resp, body := h.get(t, "/api/me")
	require.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	require.Equal(t, `{"id":7}`, body)

	h.origin.SetFailing(http.StatusInternalServerError)
	resp, body = h.get(t, "/api/me")
	assert.Equal(t, OutcomeStale, resp.Header.Get(offline.Header))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"id":7}`, body)
}

func TestHandle_NetworkFirstWithoutEntryIsOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetFailing(http.StatusInternalServerError)

	resp, body := h.get(t, "/api/unknown")
	assert.Equal(t, OutcomeOffline, resp.Header.Get(offline.Header))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, `"error":"offline"`)
	assert.Equal(t, 3, h.origin.PathCount("/api/unknown"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeper.Delays())
}

func TestHandle_OfflineNavigationPage(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.down.Store(true)

	req := httptest.NewRequest(http.MethodGet, h.origin.URL()+"/settings", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp := h.engine.Handle(req)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, OutcomeOffline, resp.Header.Get(offline.Header))
}

func TestHandle_NetworkOnlyNeverCaches(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 2; i++ {
		resp, _ := h.get(t, "/api/live")
		assert.Equal(t, OutcomeBypass, resp.Header.Get(offline.Header))
	}
	assert.Equal(t, 2, h.origin.PathCount("/api/live"))
	assert.Equal(t, 0, h.engine.Store().Len("data-v1"))
}

func TestHandle_CacheOnly(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.get(t, "/manifest.json")
	assert.Equal(t, OutcomeOffline, resp.Header.Get(offline.Header))
	assert.Equal(t, 0, h.origin.RequestCount())

	require.NoError(t, h.engine.Prefetch(context.Background(), h.origin.URL()+"/manifest.json"))
	h.clock.Advance(10 * 365 * 24 * time.Hour)

	resp, body := h.get(t, "/manifest.json")
	assert.Equal(t, OutcomeHit, resp.Header.Get(offline.Header))
	assert.Equal(t, `{"status": "ok"}`, body)
	assert.Equal(t, 1, h.origin.RequestCount())
}

func TestHandle_ClientErrorIsNotStoredOrRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetResponse("/assets/missing.js", testutil.NewNotFoundResponse())

	resp, _ := h.get(t, "/assets/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.Equal(t, 1, h.origin.PathCount("/assets/missing.js"))
	assert.Empty(t, h.sleeper.Delays())

	h.get(t, "/assets/missing.js")
	assert.Equal(t, 2, h.origin.PathCount("/assets/missing.js"))
}

func TestHandle_NoStoreResponseIsNotCached(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetResponse("/assets/private.js", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "secret",
		Headers:    map[string]string{"Cache-Control": "no-store"},
	})

	h.get(t, "/assets/private.js")
	h.get(t, "/assets/private.js")
	assert.Equal(t, 2, h.origin.PathCount("/assets/private.js"))
}

func TestHandle_PersistenceFailureIsSoft(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FailPuts(errors.New("quota exceeded"))

	resp, body := h.get(t, "/assets/app.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status": "ok"}`, body)

	resp, _ = h.get(t, "/assets/app.js")
	assert.Equal(t, OutcomeHit, resp.Header.Get(offline.Header))
}

func TestHandle_MutatingRequestRetryBackoffAndRedrive(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetFailing(http.StatusServiceUnavailable)

	payload := []byte(`{"changes":[1,2,3]}`)
	resp, body := h.do(t, http.MethodPost, "/api/sync", payload)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, OutcomeQueued, resp.Header.Get(offline.Header))
	assert.Contains(t, body, `"queued":true`)
	assert.Equal(t, 3, h.origin.PathCount("/api/sync"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeper.Delays())

	items := h.engine.Queue().Items()
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Attempts)
	assert.Equal(t, http.MethodPost, items[0].Method)
	assert.Equal(t, payload, items[0].Body)

	h.origin.SetFailing(0)
	res, err := h.engine.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 0, h.engine.Queue().Len())
	assert.Equal(t, payload, h.origin.LastBody())
	assert.Equal(t, 4, h.origin.PathCount("/api/sync"))
}

func TestHandle_MutatingRequestsBypassCache(t *testing.T) {
	h := newHarness(t, nil)

	resp, _ := h.do(t, http.MethodPut, "/assets/app.js", []byte("x"))
	assert.Equal(t, OutcomeBypass, resp.Header.Get(offline.Header))
	assert.Equal(t, 0, h.engine.Store().Len("static-v1"))
}

func TestNotifyConnectivityRestored_DrainsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.SetFailing(http.StatusServiceUnavailable)
	h.do(t, http.MethodPost, "/api/sync", []byte(`{}`))
	require.Equal(t, 1, h.engine.Queue().Len())

	h.origin.SetFailing(0)
	h.engine.NotifyConnectivityRestored()

	require.Eventually(t, func() bool { return h.engine.Queue().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConnectivityRecovery_DrainsQueue(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.down.Store(true)

	resp, _ := h.do(t, http.MethodPost, "/api/sync", []byte(`{"n":1}`))
	require.Equal(t, OutcomeQueued, resp.Header.Get(offline.Header))
	require.False(t, h.engine.Connectivity().Online, "three transport failures mark the origin offline")

	h.transport.down.Store(false)
	h.get(t, "/api/live")

	require.Eventually(t, func() bool { return h.engine.Queue().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.engine.Connectivity().Online)
	assert.Equal(t, 1, h.origin.PathCount("/api/sync"))
}

func TestDrainQueue_DropsExpiredItems(t *testing.T) {
	var dropped []retryqueue.Item
	var mu sync.Mutex
	h := newHarness(t, func(o *Options) {
		o.Reporter = retryqueue.ReporterFunc(func(it retryqueue.Item, _ error) {
			mu.Lock()
			defer mu.Unlock()
			dropped = append(dropped, it)
		})
	})

	err := h.engine.Queue().Enqueue(context.Background(), retryqueue.Item{
		URL:        h.origin.URL() + "/api/sync",
		Method:     http.MethodPost,
		Body:       []byte(`{}`),
		EnqueuedAt: h.clock.Now().Add(-25 * time.Hour),
	})
	require.NoError(t, err)

	res, err := h.engine.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 0, h.origin.RequestCount(), "expired items are dropped without a fetch")
	assert.Equal(t, 0, h.engine.Queue().Len())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, dropped, 1)
}

func TestOnDeploy_PartitionCutover(t *testing.T) {
	h := newHarness(t, nil)
	h.get(t, "/assets/app.js")
	key := cache.NewKey(http.MethodGet, h.origin.URL()+"/assets/app.js")
	_, ok := h.engine.Store().Get("static-v1", key)
	require.True(t, ok)

	report, err := h.engine.OnDeploy(context.Background(), "v2")
	require.NoError(t, err)
	assert.Contains(t, report.Removed, "static-v1")

	_, ok = h.engine.Store().Get("static-v1", key)
	assert.False(t, ok, "v1 entry is gone")
	assert.NotContains(t, h.engine.Store().Partitions(), "static-v1")
	assert.Equal(t, "v2", h.engine.Version())

	require.NoError(t, h.engine.Store().Flush(context.Background()))
	require.NoError(t, h.backend.Scan(context.Background(), cache.EntryPrefix+"v1/static-v1/", func(k string, _ []byte) error {
		t.Errorf("v1 key persisted after cutover: %s", k)
		return nil
	}))

	resp, _ := h.get(t, "/assets/app.js")
	assert.Equal(t, OutcomeMiss, resp.Header.Get(offline.Header))
	assert.Equal(t, 2, h.origin.PathCount("/assets/app.js"))
}

func TestOnDeploy_DoesNotWaitForInflightFetch(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.origin.SetHandler("/assets/slow.js", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("slow"))
	})

	served := make(chan *http.Response, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, h.origin.URL()+"/assets/slow.js", nil)
		served <- h.engine.Handle(req)
	}()
	require.Eventually(t, func() bool {
		return h.origin.PathCount("/assets/slow.js") == 1
	}, 2*time.Second, 10*time.Millisecond)

	deployed := make(chan error, 1)
	go func() {
		_, err := h.engine.OnDeploy(context.Background(), "v2")
		deployed <- err
	}()
	select {
	case err := <-deployed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(release)
		t.Fatal("OnDeploy waited for a request that was still fetching")
	}
	assert.Equal(t, "v2", h.engine.Version())

	close(release)
	resp := <-served
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "slow", string(body))

	// The response of the v1 request is not written into the new version.
	assert.NotContains(t, h.engine.Store().Partitions(), "static-v1")
	assert.Equal(t, 0, h.engine.Store().Len("static-v2"))
}

func TestNew_PrecachesAndSurvivesRestart(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/assets/app.js", testutil.NewOKResponse("application/javascript", "shell"))

	classifier, err := policy.FromSpecs(testPolicies)
	require.NoError(t, err)
	backend := storage.NewMemory()
	logger := logging.Nop()
	opts := Options{
		Backend:      backend,
		BuildVersion: "v1",
		Classifier:   classifier,
		HTTPClient:   origin.Client(),
		PrecacheURLs: []string{origin.URL() + "/assets/app.js"},
		Logger:       &logger,
	}

	e, err := New(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, origin.PathCount("/assets/app.js"))
	require.NoError(t, e.Close())

	// Restart with precaching disabled: the entry is loaded from the backend.
	opts.PrecacheURLs = nil
	e, err = New(context.Background(), opts)
	require.NoError(t, err)
	defer e.Close()

	resp := e.Handle(httptest.NewRequest(http.MethodGet, origin.URL()+"/assets/app.js", nil))
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, OutcomeHit, resp.Header.Get(offline.Header))
	assert.Equal(t, "shell", string(body))
	assert.Equal(t, 1, origin.PathCount("/assets/app.js"))
}

func TestPrefetch_RejectsRelativeAndNetworkOnly(t *testing.T) {
	h := newHarness(t, nil)
	assert.Error(t, h.engine.Prefetch(context.Background(), "/assets/app.js"))
	assert.Error(t, h.engine.Prefetch(context.Background(), h.origin.URL()+"/api/live"))
}
