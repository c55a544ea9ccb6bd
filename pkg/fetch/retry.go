package fetch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	fetchBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cachegate_fetch_backoff_seconds",
		Help:    "Backoff duration before the next attempt by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 30},
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_fetch_retry_exhausted_total",
		Help: "Total number of fetches that exhausted all attempts by error class",
	}, []string{"error_class"})
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// sleepContext is the default Sleeper.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the nominal delay after the given zero-based attempt:
// base × 2^attempt, capped at maxDelay when maxDelay > 0.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// withJitter spreads d by ±fraction to prevent thundering herd.
func withJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 - fraction + rand.Float64()*2*fraction))
}
