//go:build integration

package engine

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/cachegate/internal/testutil"
	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/logging"
	"github.com/Sternrassler/cachegate/pkg/policy"
	"github.com/Sternrassler/cachegate/pkg/retryqueue"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	require.NoError(t, client.Ping(ctx).Err())

	t.Cleanup(func() {
		client.Close()
		container.Terminate(context.Background())
	})
	return client
}

func newRedisEngine(t *testing.T, client *redis.Client, version string) *Engine {
	t.Helper()
	logger := logging.Nop()

	cfg := fetch.DefaultConfig()
	cfg.Jitter = 0
	cfg.MaxAttempts = 1
	cfg.AttemptTimeout = 2 * time.Second

	classifier, err := policy.FromSpecs(testPolicies)
	require.NoError(t, err)

	eng, err := New(context.Background(), Options{
		Backend:      storage.NewRedis(client, "cachegate-it"),
		BuildVersion: version,
		Classifier:   classifier,
		Fetch:        cfg,
		Queue:        retryqueue.Config{RetryDelay: time.Hour, DrainInterval: time.Hour},
		Sleeper:      (&recordingSleeper{}).Sleep,
		Logger:       &logger,
	})
	require.NoError(t, err)
	return eng
}

// TestIntegration_OfflineAfterRestart runs the full flow against Redis: a
// response cached by one process is served by the next one while the origin
// is down, and a queued write survives the restart and is redriven.
func TestIntegration_OfflineAfterRestart(t *testing.T) {
	client := setupRedis(t)
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/assets/app.css", testutil.NewOKResponse("text/css", "body{}"))

	first := newRedisEngine(t, client, "1.0.0")
	req, _ := http.NewRequest(http.MethodGet, origin.URL()+"/assets/app.css", nil)
	resp := first.Handle(req)
	resp.Body.Close()
	assert.Equal(t, OutcomeMiss, resp.Header.Get("X-Cachegate"))

	// The origin rejects writes until it is "back".
	origin.SetFailing(http.StatusServiceUnavailable)
	post, _ := http.NewRequest(http.MethodPost, origin.URL()+"/api/sync", strings.NewReader(`{"n":1}`))
	resp = first.Handle(post)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, first.Queue().Len())
	require.NoError(t, first.Close())

	second := newRedisEngine(t, client, "1.0.0")
	defer second.Close()

	req, _ = http.NewRequest(http.MethodGet, origin.URL()+"/assets/app.css", nil)
	resp = second.Handle(req)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, OutcomeHit, resp.Header.Get("X-Cachegate"))
	assert.Equal(t, "body{}", string(body))
	assert.Equal(t, 1, second.Queue().Len(), "queued write persisted")

	origin.SetFailing(0)
	res, err := second.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, `{"n":1}`, string(origin.LastBody()))
}

// TestIntegration_DeployDropsOldPartitions checks that a cutover deletes the
// previous version's keys from Redis, not just from memory.
func TestIntegration_DeployDropsOldPartitions(t *testing.T) {
	client := setupRedis(t)
	origin := testutil.NewMockOrigin()
	defer origin.Close()

	eng := newRedisEngine(t, client, "1.0.0")
	defer eng.Close()

	req, _ := http.NewRequest(http.MethodGet, origin.URL()+"/assets/app.css", nil)
	eng.Handle(req).Body.Close()
	require.NoError(t, eng.Store().Flush(context.Background()))

	ctx := context.Background()
	keys, err := client.Keys(ctx, "cachegate-it:c/1.0.0/static-1.0.0/*").Result()
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	_, err = eng.OnDeploy(ctx, "2.0.0")
	require.NoError(t, err)

	keys, err = client.Keys(ctx, "cachegate-it:c/1.0.0/static-1.0.0/*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
