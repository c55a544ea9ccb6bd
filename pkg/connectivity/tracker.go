package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/fetch"
	"github.com/Sternrassler/cachegate/pkg/storage"
)

// Prometheus metrics for connectivity tracking.
var (
	connectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachegate_connectivity_online",
		Help: "1 when the origin is considered reachable, 0 otherwise",
	})

	connectivityTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_connectivity_transitions_total",
		Help: "Total number of connectivity transitions by target state",
	}, []string{"to"}) // "online", "offline"
)

// Tracker monitors origin reachability and implements fetch.Observer.
type Tracker struct {
	mu         sync.Mutex
	state      State
	threshold  int
	now        func() time.Time
	onRestored func()
	backend    storage.Backend
	logger     zerolog.Logger
}

// NewTracker creates a tracker that starts online. threshold <= 0 uses
// OfflineAfterFailures.
func NewTracker(threshold int, logger zerolog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = OfflineAfterFailures
	}
	t := &Tracker{
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
	t.state = State{Online: true, LastChange: t.now(), LastUpdate: t.now()}
	connectivityOnline.Set(1)
	return t
}

// SetClock overrides the clock (for testing).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// OnRestored registers fn to run on every offline -> online transition.
func (t *Tracker) OnRestored(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestored = fn
}

// SetBackend persists state changes to backend so a restart remembers that
// the origin was offline.
func (t *Tracker) SetBackend(backend storage.Backend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backend = backend
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Online reports whether the origin is considered reachable.
func (t *Tracker) Online() bool {
	return t.GetState().Online
}

// ObserveSuccess implements fetch.Observer. Any HTTP response, whatever its
// status, proves the origin is reachable.
func (t *Tracker) ObserveSuccess() {
	t.update(func(s *State) {
		s.ConsecutiveFailures = 0
		s.Online = true
	})
}

// ObserveFailure implements fetch.Observer. Only transport and timeout
// failures count towards going offline.
func (t *Tracker) ObserveFailure(class fetch.ErrorClass) {
	if !fetch.IsConnectivityFailure(class) {
		t.ObserveSuccess()
		return
	}
	t.update(func(s *State) {
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= t.threshold {
			s.Online = false
		}
	})
}

// SetOnline forces the state, e.g. when the host reports a network change.
func (t *Tracker) SetOnline(online bool) {
	t.update(func(s *State) {
		s.Online = online
		if online {
			s.ConsecutiveFailures = 0
		}
	})
}

// update applies fn and fires the transition side effects outside the lock.
func (t *Tracker) update(fn func(s *State)) {
	t.mu.Lock()
	before := t.state.Online
	fn(&t.state)
	now := t.now()
	t.state.LastUpdate = now
	changed := before != t.state.Online
	if changed {
		t.state.LastChange = now
	}
	snapshot := t.state
	restored := t.onRestored
	backend := t.backend
	t.mu.Unlock()

	if !changed {
		return
	}

	if snapshot.Online {
		connectivityOnline.Set(1)
		connectivityTransitionsTotal.WithLabelValues("online").Inc()
		t.logger.Info().Msg("Origin reachable again")
	} else {
		connectivityOnline.Set(0)
		connectivityTransitionsTotal.WithLabelValues("offline").Inc()
		t.logger.Warn().
			Int("consecutive_failures", snapshot.ConsecutiveFailures).
			Msg("Origin unreachable, serving offline")
	}

	if backend != nil {
		if err := saveState(backend, snapshot); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to persist connectivity state")
		}
	}

	if snapshot.Online && restored != nil {
		restored()
	}
}

// Load restores the persisted state, if any.
func (t *Tracker) Load(ctx context.Context) error {
	t.mu.Lock()
	backend := t.backend
	t.mu.Unlock()
	if backend == nil {
		return nil
	}

	data, err := backend.Get(ctx, StateKey)
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Debug().Msg("No persisted connectivity state, assuming online")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get connectivity state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse connectivity state: %w", err)
	}

	t.mu.Lock()
	t.state = s
	t.mu.Unlock()

	if s.Online {
		connectivityOnline.Set(1)
	} else {
		connectivityOnline.Set(0)
	}
	return nil
}

func saveState(backend storage.Backend, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal connectivity state: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return backend.Put(ctx, StateKey, data)
}
