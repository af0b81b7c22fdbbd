// internal/expiry/scheduler.go
// In-process scheduler for deployments without an external cron. Runs the
// full-scope expiry check on a fixed interval; the run itself is idempotent,
// so overlap with an external trigger is harmless.
package expiry

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler triggers full-scope engine runs at a fixed interval.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	stopChan chan struct{}
}

// NewScheduler creates a scheduler. Interval must be positive.
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduling loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
	slog.Info("expiry scheduler started", "interval", s.interval)
}

// Stop halts the scheduling loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	slog.Info("expiry scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.engine.Run(ctx, Scope{}); err != nil {
				slog.Error("scheduled expiry check failed", "error", err)
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
