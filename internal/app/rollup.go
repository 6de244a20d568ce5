package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Rollup rebuilds the daily aggregates for every bank active in [From, To).
func (a *App) Rollup(ctx context.Context, opts RollupOptions) error {
	from := truncateDay(opts.From)
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("rollup window is empty; check --from/--to")
	}

	svc, closeStore, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.DryRun {
		days, err := svc.store.ListActiveDays(ctx, from, to)
		if err != nil {
			return err
		}
		a.Logger.Warn().Msg("rollup dry-run: nothing will be written")
		for _, bd := range days {
			fmt.Fprintf(a.Out, "%s\t%s\n", bd.Day.UTC().Format(time.DateOnly), bd.BankID)
		}
		fmt.Fprintf(a.Out, "%d bank-days would be recomputed\n", len(days))
		return nil
	}

	report, err := svc.rollup.Sweep(ctx, from, to)
	if report.Skipped {
		return errors.New("another rollup holds the advisory lock; retry later")
	}
	fmt.Fprintf(a.Out, "days: %d  written: %d  removed: %d  failed: %d\n", report.Days, report.Written, report.Removed, report.Failed)
	return err
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
