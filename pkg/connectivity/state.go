// Package connectivity tracks whether the origin is reachable. It observes
// the outcome of every origin attempt and detects offline -> online
// transitions so queued mutations can be redriven as soon as the network
// is back.
package connectivity

import (
	"time"
)

// StateKey is the backend key the tracker state is persisted under.
const StateKey = "s/connectivity"

// Thresholds for connectivity decisions.
const (
	// OfflineAfterFailures marks the origin offline after this many
	// consecutive transport failures.
	OfflineAfterFailures = 3
)

// State represents the current connectivity state.
type State struct {
	// Online is false once the failure threshold was reached and no
	// attempt has succeeded since.
	Online bool `json:"online"`

	// ConsecutiveFailures counts transport failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastChange is when Online last flipped.
	LastChange time.Time `json:"last_change"`

	// LastUpdate is when the state last observed an attempt.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if no attempt was observed within maxAge.
func (s *State) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// OfflineFor returns how long the origin has been offline, or 0 when online.
func (s *State) OfflineFor(now time.Time) time.Duration {
	if s.Online {
		return 0
	}
	d := now.Sub(s.LastChange)
	if d < 0 {
		return 0
	}
	return d
}
