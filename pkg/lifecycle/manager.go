// Package lifecycle promotes a new build version: it creates the partitions
// of the new version, deletes every partition of other versions and warms
// the new partitions with the precache URL list.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cachegate/pkg/precache"
)

var cutoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cachegate_lifecycle_cutovers_total",
	Help: "Total partition cutovers by direction",
}, []string{"direction"})

// ErrInvalidVersion is returned for versions that cannot name a partition.
var ErrInvalidVersion = errors.New("invalid build version")

// Direction describes how a cutover moved between versions.
type Direction string

const (
	DirectionInitial  Direction = "initial"
	DirectionSame     Direction = "same"
	DirectionUpgrade  Direction = "upgrade"
	DirectionRollback Direction = "rollback"
	DirectionReplace  Direction = "replace"
)

// Store is the cache store surface the manager needs.
type Store interface {
	Version() string
	Cutover(ctx context.Context, version string, logical []string) ([]string, error)
}

// Report describes a finished deployment.
type Report struct {
	Previous  string
	Version   string
	Direction Direction
	Removed   []string
	Precache  precache.Result
}

// Manager performs partition cutovers.
type Manager struct {
	store      Store
	warmer     *precache.Warmer
	partitions []string
	urls       []string
	logger     zerolog.Logger
}

// NewManager creates a manager for the given logical partitions. warmer may
// be nil to skip precaching.
func NewManager(store Store, partitions []string, warmer *precache.Warmer, urls []string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:      store,
		warmer:     warmer,
		partitions: partitions,
		urls:       urls,
		logger:     logger,
	}
}

// ValidateVersion rejects versions that cannot be used as a partition suffix.
func ValidateVersion(version string) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidVersion)
	}
	if strings.ContainsAny(version, "/ ") {
		return fmt.Errorf("%w: %q must not contain '/' or spaces", ErrInvalidVersion, version)
	}
	return nil
}

// DirectionOf compares two versions. Non-semver versions that differ are a
// replace.
func DirectionOf(previous, next string) Direction {
	if previous == "" {
		return DirectionInitial
	}
	if previous == next {
		return DirectionSame
	}
	prev, errPrev := semver.NewVersion(previous)
	cur, errCur := semver.NewVersion(next)
	if errPrev != nil || errCur != nil {
		return DirectionReplace
	}
	switch {
	case cur.GreaterThan(prev):
		return DirectionUpgrade
	case cur.LessThan(prev):
		return DirectionRollback
	default:
		return DirectionReplace
	}
}

// Cutover switches the store to version. Partitions of every other version
// are deleted before it returns.
func (m *Manager) Cutover(ctx context.Context, version string) (Report, error) {
	if err := ValidateVersion(version); err != nil {
		return Report{}, err
	}

	previous := m.store.Version()
	report := Report{
		Previous:  previous,
		Version:   version,
		Direction: DirectionOf(previous, version),
	}

	removed, err := m.store.Cutover(ctx, version, m.partitions)
	report.Removed = removed
	if err != nil {
		return report, fmt.Errorf("cutover to %s: %w", version, err)
	}
	cutoversTotal.WithLabelValues(string(report.Direction)).Inc()

	m.logger.Info().
		Str("previous", previous).
		Str("version", version).
		Str("direction", string(report.Direction)).
		Strs("removed", removed).
		Msg("Partition cutover complete")

	return report, nil
}

// Precache warms the current partitions with the configured URLs. Failures
// are logged and reported, never returned as errors unless ctx ended.
func (m *Manager) Precache(ctx context.Context) (precache.Result, error) {
	if m.warmer == nil || len(m.urls) == 0 {
		return precache.Result{}, nil
	}
	res, err := m.warmer.WarmAll(ctx, m.urls)
	if err != nil {
		m.logger.Warn().Err(err).Str("version", m.store.Version()).Msg("Precache incomplete")
	}
	return res, err
}

// Deploy runs Cutover followed by Precache. A precache failure does not fail
// the deployment.
func (m *Manager) Deploy(ctx context.Context, version string) (Report, error) {
	report, err := m.Cutover(ctx, version)
	if err != nil {
		return report, err
	}
	report.Precache, _ = m.Precache(ctx)
	return report, nil
}
