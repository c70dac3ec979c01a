package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Scheduler struct {
	Runner   Runner
	Interval time.Duration
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Runner == nil || s.Interval <= 0 {
		return
	}

	// Run immediately at startup.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	err := s.Runner.RunOnce(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, ErrScanAlreadyRunning):
		slog.Info("scan pass skipped, previous pass still running")
	default:
		slog.Error("scan pass failed", "err", err)
	}
}
