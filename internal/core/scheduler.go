package core

// scheduler.go runs background maintenance for the job registry.
//
// The sweeper periodically removes finished jobs whose retention window has
// passed and drops their retained push events. It is long-running and stops
// when its context is cancelled. Collected jobs stay readable through job
// history when one is configured.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultGCInterval is how often the sweeper runs.
const DefaultGCInterval = 5 * time.Minute

// StartSweeper blocks, sweeping the registry every interval until ctx is
// cancelled. Run it in its own goroutine.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	slog.Info("job sweeper started", "interval", interval, "retention", s.registry.retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep performs one collection pass and returns the number of removed jobs.
func (s *Service) sweep() int {
	start := time.Now()

	removed := s.registry.Sweep(s.now())
	for _, id := range removed {
		s.broadcaster.Forget(id)
	}

	if len(removed) > 0 {
		stats := s.registry.Stats()
		slog.Info("swept finished import jobs",
			"removed", len(removed),
			"remaining", stats.Total,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return len(removed)
}
