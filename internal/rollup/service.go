// Package rollup maintains the per-bank, per-day aggregate table.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nexora-analytics/internal/config"
	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/period"
	"nexora-analytics/internal/storage"
)

// ErrPartialSweep reports a sweep where some days failed to recompute.
var ErrPartialSweep = errors.New("rollup: some days failed to recompute")

// Store is the persistence the rollup needs.
type Store interface {
	storage.DailyAggregateStore
	TransferDay(ctx context.Context, transactionID string) (time.Time, bool, error)
}

// DailyPoint is one stored aggregate as served over the API.
type DailyPoint struct {
	Date              string    `json:"date"`
	TransferCount     int64     `json:"transfer_count"`
	TotalVolume       float64   `json:"total_volume"`
	TotalFees         float64   `json:"total_fees"`
	AvgSettlementTime float64   `json:"avg_settlement_time"`
	SuccessRate       float64   `json:"success_rate"`
	SwiftFeeTotal     float64   `json:"swift_fee_total"`
	ActualFeeTotal    float64   `json:"actual_fee_total"`
	Savings           float64   `json:"savings"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Days    int  `json:"days"`
	Written int  `json:"written"`
	Removed int  `json:"removed"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped"`
}

// Service recomputes and reads daily aggregates.
type Service struct {
	store      Store
	locker     storage.AdvisoryLocker
	nativeRate decimal.Decimal
	cfg        config.RollupConfig
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs the rollup service. Stores that also implement
// storage.AdvisoryLocker guard sweeps with cfg.AdvisoryLockKey.
func New(store Store, model costmodel.Model, cfg config.RollupConfig, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Service{
		store:      store,
		locker:     locker,
		nativeRate: model.NativeFeeRate,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With().Str("component", "rollup").Logger(),
		now:        time.Now,
	}
}

// Recompute rebuilds the aggregate for bankID on the UTC day containing day.
// Repeated calls converge on the same row.
func (s *Service) Recompute(ctx context.Context, bankID string, day time.Time) error {
	_, err := s.recompute(ctx, bankID, day)
	return err
}

func (s *Service) recompute(ctx context.Context, bankID string, day time.Time) (bool, error) {
	if s.store == nil {
		return false, storage.ErrNotConfigured
	}
	written, err := s.store.RecomputeDaily(ctx, bankID, day, s.nativeRate)
	if err != nil {
		s.metrics.RollupResult(metrics.ResultFailed)
		return false, fmt.Errorf("recompute %s %s: %w", bankID, day.UTC().Format(time.DateOnly), err)
	}
	if written {
		s.metrics.RollupResult(metrics.ResultOK)
	} else {
		s.metrics.RollupResult(metrics.ResultSkipped)
	}
	return written, nil
}

// RecomputeForTransfer rebuilds the day a transfer belongs to, or today when
// the transfer record does not exist yet.
func (s *Service) RecomputeForTransfer(ctx context.Context, bankID, transactionID string) error {
	if s.store == nil {
		return storage.ErrNotConfigured
	}
	day, ok, err := s.store.TransferDay(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("resolve transfer day: %w", err)
	}
	if !ok {
		day = s.now()
	}
	return s.Recompute(ctx, bankID, day)
}

// Sweep recomputes every (bank, day) with transfers in [from, to). Only one
// replica sweeps at a time when an advisory lock is available.
func (s *Service) Sweep(ctx context.Context, from, to time.Time) (SweepReport, error) {
	if s.store == nil {
		return SweepReport{}, storage.ErrNotConfigured
	}

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.cfg.AdvisoryLockKey)
		if err != nil {
			return SweepReport{}, err
		}
		if !acquired {
			s.logger.Debug().Msg("skip sweep because advisory lock held elsewhere")
			return SweepReport{Skipped: true}, nil
		}
		defer unlock()
	}

	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	days, err := s.store.ListActiveDays(ctx, from, to)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list active days: %w", err)
	}

	report := SweepReport{Days: len(days)}
	for _, bd := range days {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		written, err := s.recompute(ctx, bd.BankID, bd.Day)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error().Err(err).Str("bank_id", bd.BankID).Time("day", bd.Day).Msg("daily recompute failed")
		case written:
			report.Written++
		default:
			report.Removed++
		}
	}

	s.logger.Info().
		Int("days", report.Days).
		Int("written", report.Written).
		Int("failed", report.Failed).
		Time("from", from).
		Time("to", to).
		Msg("rollup sweep finished")

	if report.Failed > 0 {
		return report, ErrPartialSweep
	}
	return report, nil
}

// Daily lists stored aggregates for the period, oldest first. Only UTC days
// that start inside the window are returned; the current day is included.
func (s *Service) Daily(ctx context.Context, bankID, token string) (period.Range, []DailyPoint, error) {
	r, err := period.ResolveAt(token, s.now())
	if err != nil {
		return period.Range{}, nil, err
	}
	if s.store == nil {
		return r, nil, storage.ErrNotConfigured
	}

	aggs, err := s.store.ListDailyAggregates(ctx, bankID, firstDayWithin(r.Start), dayOf(r.End).AddDate(0, 0, 1))
	if err != nil {
		return r, nil, fmt.Errorf("list daily aggregates: %w", err)
	}

	out := make([]DailyPoint, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, DailyPoint{
			Date:              agg.Day.UTC().Format(time.DateOnly),
			TransferCount:     agg.TransferCount,
			TotalVolume:       agg.TotalVolume.InexactFloat64(),
			TotalFees:         agg.TotalFees.InexactFloat64(),
			AvgSettlementTime: decimal.NewFromFloat(agg.AvgSettlementSeconds).Round(2).InexactFloat64(),
			SuccessRate:       agg.SuccessRate.InexactFloat64(),
			SwiftFeeTotal:     agg.SwiftFeeTotal.InexactFloat64(),
			ActualFeeTotal:    agg.ActualFeeTotal.InexactFloat64(),
			Savings:           agg.Savings.InexactFloat64(),
			UpdatedAt:         agg.UpdatedAt,
		})
	}
	return r, out, nil
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// firstDayWithin returns the first UTC midnight at or after t.
func firstDayWithin(t time.Time) time.Time {
	day := dayOf(t)
	if day.Before(t) {
		return day.AddDate(0, 0, 1)
	}
	return day
}
