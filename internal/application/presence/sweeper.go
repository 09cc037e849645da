package presence

import (
	"context"
	"time"

	"github.com/orris-inc/roster/internal/shared/logger"
)

// Sweeper periodically evicts sessions whose heartbeats stopped without a
// disconnect. Missing a run is harmless: liveness queries already exclude
// stale sessions, sweeping just reclaims their records.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   logger.Interface
}

// NewSweeper creates a new sweeper running at the given interval.
func NewSweeper(registry *Registry, interval time.Duration, logger logger.Interface) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Execute performs a single sweep and returns the eviction count. It
// satisfies the scheduler's batch job contract and leaves logging to the
// caller.
func (s *Sweeper) Execute(ctx context.Context) (int, error) {
	return s.registry.Sweep(ctx)
}

// RunOnce performs a single sweep and returns the eviction count.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	count, err := s.registry.Sweep(ctx)
	if err != nil {
		s.logger.Errorw("presence sweep failed", "evicted", count, "error", err)
		return count, err
	}

	if count > 0 {
		s.logger.Infow("presence sweep completed",
			"evicted", count,
			"duration", time.Since(start))
	} else {
		s.logger.Debugw("presence sweep completed, nothing to evict",
			"duration", time.Since(start))
	}
	return count, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("presence sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("presence sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}
