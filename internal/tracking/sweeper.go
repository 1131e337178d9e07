package tracking

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically persists expiry and purges old sessions.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.svc.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.ErrorContext(ctx, "tracking sweep failed", "error", err)
			}
		}
	}
}
