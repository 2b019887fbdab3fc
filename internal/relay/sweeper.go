package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamerelay/internal/observability"
)

// sizeRefreshInterval is how often the registry gauge is refreshed when
// eviction is disabled.
const sizeRefreshInterval = 15 * time.Second

// Sweeper periodically removes endpoints that have been silent for longer
// than the retention period, bounding registry growth under address churn.
// It runs off the receive path and only ever deletes entries already outside
// the activity window.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	retention time.Duration
	metrics   *observability.Metrics
	logger    *zap.Logger
	refresh   time.Duration
}

// NewSweeper returns a sweeper evicting entries older than retention every
// interval. An interval of zero disables eviction; Run then only keeps the
// registry size gauge current.
//
// Precondition: registry and logger must be non-nil; interval and retention must be >= 0.
func NewSweeper(registry *Registry, interval, retention time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry:  registry,
		interval:  interval,
		retention: retention,
		metrics:   metrics,
		logger:    logger,
		refresh:   sizeRefreshInterval,
	}
}

// Sweep performs a single eviction pass and returns the number of endpoints removed.
func (s *Sweeper) Sweep() int {
	removed := s.registry.Evict(s.retention)
	remaining := s.registry.Len()
	s.metrics.Evicted(removed)
	s.metrics.RegistrySize(remaining)
	if removed > 0 {
		s.logger.Debug("registry swept",
			zap.Int("evicted", removed),
			zap.Int("remaining", remaining),
		)
	}
	return removed
}

// Run sweeps once per interval until ctx is cancelled. With sweeping
// disabled it refreshes the registry size gauge instead.
func (s *Sweeper) Run(ctx context.Context) {
	period, tick := s.interval, func() { s.Sweep() }
	if s.interval <= 0 {
		period, tick = s.refresh, func() { s.metrics.RegistrySize(s.registry.Len()) }
		tick()
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
