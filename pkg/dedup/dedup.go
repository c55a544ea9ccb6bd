// Package dedup coalesces concurrent work on the same key so that at most
// one origin request per key is in flight. Joiners receive the same result
// as the caller that started the work.
package dedup

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// SharedTotal tracks calls whose result was shared with other callers.
var SharedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "cachegate_dedup_shared_total",
		Help: "Total number of calls that shared an in-flight result",
	},
)

// Coordinator deduplicates in-flight calls by key.
type Coordinator[T any] struct {
	group singleflight.Group
}

// New creates a coordinator.
func New[T any]() *Coordinator[T] {
	return &Coordinator[T]{}
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call and returns its result. shared reports
// whether the result was delivered to more than one caller.
//
// fn runs detached from the caller's cancellation so a joiner that gives up
// does not abort the work for everyone else. A caller whose ctx is done
// returns ctx.Err() without waiting further. The key is forgotten once the
// call completes.
func (c *Coordinator[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			SharedTotal.Inc()
		}
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return zero, res.Shared, fmt.Errorf("dedup: unexpected result type %T", res.Val)
		}
		return v, res.Shared, nil
	}
}

// Forget drops key so the next Do starts a new call even if one is still
// running.
func (c *Coordinator[T]) Forget(key string) {
	c.group.Forget(key)
}
