package connectivity

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    *State
		maxAge   time.Duration
		expected bool
	}{
		{"fresh state", &State{LastUpdate: now}, 5 * time.Minute, false},
		{"stale state", &State{LastUpdate: now.Add(-10 * time.Minute)}, 5 * time.Minute, true},
		{"just under max age", &State{LastUpdate: now.Add(-4 * time.Minute)}, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.state.IsStale(tt.maxAge, now); result != tt.expected {
				t.Errorf("IsStale() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestState_OfflineFor(t *testing.T) {
	now := time.Now()

	online := &State{Online: true, LastChange: now.Add(-time.Hour)}
	if d := online.OfflineFor(now); d != 0 {
		t.Errorf("OfflineFor() online = %v, want 0", d)
	}

	offline := &State{Online: false, LastChange: now.Add(-time.Minute)}
	if d := offline.OfflineFor(now); d != time.Minute {
		t.Errorf("OfflineFor() = %v, want 1m", d)
	}
}
