package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Run sweeps the trailing lookback window on every interval until ctx is
// cancelled. Sweep errors are logged and do not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("rollup interval must be positive")
	}

	if s.cfg.StartupDelay > 0 {
		if err := sleep(ctx, s.cfg.StartupDelay); err != nil {
			return err
		}
	}

	s.tick(ctx)

	next := s.nextRun(time.Now().UTC())
	for {
		wait := time.Until(next)
		if wait < 0 {
			next = s.nextRun(time.Now().UTC())
			wait = time.Until(next)
		}
		s.logger.Debug().Time("next_sweep", next).Msg("waiting for next sweep")

		if err := sleep(ctx, wait); err != nil {
			return err
		}
		s.tick(ctx)
		next = next.Add(s.cfg.Interval)
	}
}

func (s *Service) tick(ctx context.Context) {
	to := s.now().UTC()
	from := to.Add(-s.cfg.Lookback)
	if _, err := s.Sweep(ctx, from, to); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}

// nextRun returns the next sweep time, aligned to the interval when configured.
func (s *Service) nextRun(now time.Time) time.Time {
	if !s.cfg.AlignToBucket {
		return now.Add(s.cfg.Interval)
	}
	next := now.Truncate(s.cfg.Interval)
	if !next.After(now) {
		next = next.Add(s.cfg.Interval)
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
