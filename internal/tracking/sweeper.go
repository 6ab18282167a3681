package tracking

import (
	"context"
	"log/slog"
	"time"
)

type timeoutHandler interface {
	HandleTimeouts(ctx context.Context) SweepResult
}

// Sweeper periodically advances visitor state on elapsed time.
type Sweeper struct {
	handler  timeoutHandler
	interval time.Duration
	done     chan struct{}
}

func NewSweeper(handler timeoutHandler, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{
		handler:  handler,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Run sweeps on every tick until ctx is cancelled. A sweep already in
// progress when ctx is cancelled runs to completion.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("timeout sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("timeout sweeper stopped")
			return
		case <-ticker.C:
			res := s.handler.HandleTimeouts(context.WithoutCancel(ctx))
			if res.Changed > 0 || res.Failed > 0 {
				slog.Debug("timeout sweep",
					"changed", res.Changed,
					"expired", res.Expired,
					"failed", res.Failed,
				)
			}
		}
	}
}

// Done is closed once Run has returned.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}
