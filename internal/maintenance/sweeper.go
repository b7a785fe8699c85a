// Package maintenance runs the periodic jobs that keep identity records
// tidy. The burst counter is reset lazily on the read path too, so the sweep
// is a backstop for identities that went quiet mid-window.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"fitgate/internal/guest/store"
)

type Sweeper struct {
	store    store.Store
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(st store.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping burst counters every interval.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("burst sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("burst sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	swept, err := s.store.SweepBurst(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "burst sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.DebugContext(ctx, "burst counters swept", "records", swept)
	}
}
