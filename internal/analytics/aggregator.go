// Package analytics derives bank-level KPIs, trends and breakdowns from the
// transfer history.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/period"
	"nexora-analytics/internal/storage"
)

// ErrAggregationFailed wraps every storage failure surfaced by the aggregator.
var ErrAggregationFailed = errors.New("aggregation failed")

var hundred = decimal.NewFromInt(100)

// KPIs is the headline summary for one bank and period.
type KPIs struct {
	Period            string  `json:"period"`
	TotalTransfers    int64   `json:"total_transfers"`
	TotalVolume       float64 `json:"total_volume"`
	TotalFees         float64 `json:"total_fees"`
	AvgSettlementTime float64 `json:"avg_settlement_time"`
	SuccessRate       float64 `json:"success_rate"`
	TotalCostSavings  float64 `json:"total_cost_savings"`
	SwiftFeeTotal     float64 `json:"swift_fee_total"`
	SavingsPercentage float64 `json:"savings_percentage"`
}

// TrendPoint is one UTC day of activity.
type TrendPoint struct {
	Date              string  `json:"date"`
	TransferCount     int64   `json:"transfer_count"`
	Volume            float64 `json:"volume"`
	Fees              float64 `json:"fees"`
	SuccessRate       float64 `json:"success_rate"`
	AvgSettlementTime float64 `json:"avg_settlement_time"`
}

// TypeShare is the activity of one transfer type.
type TypeShare struct {
	TransferType string  `json:"transfer_type"`
	Count        int64   `json:"count"`
	Volume       float64 `json:"volume"`
	AvgAmount    float64 `json:"avg_amount"`
	Percentage   float64 `json:"percentage"`
}

// NetworkStats is the activity of one settlement network.
type NetworkStats struct {
	Network           string  `json:"network"`
	TransferCount     int64   `json:"transfer_count"`
	Volume            float64 `json:"volume"`
	TotalFees         float64 `json:"total_fees"`
	AvgSettlementTime float64 `json:"avg_settlement_time"`
	SuccessRate       float64 `json:"success_rate"`
	TotalCostSavings  float64 `json:"total_cost_savings"`
}

// Aggregator runs the read-side metrics queries.
type Aggregator struct {
	reader  storage.MetricsReader
	model   costmodel.Model
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAggregator wires a metrics reader and the cost model.
func NewAggregator(reader storage.MetricsReader, model costmodel.Model, m *metrics.Metrics, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		reader:  reader,
		model:   model,
		metrics: m,
		logger:  logger.With().Str("component", "analytics").Logger(),
		now:     time.Now,
	}
}

// SetClock overrides the time source used to resolve periods.
func (a *Aggregator) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Resolve maps a period token using the aggregator's clock.
func (a *Aggregator) Resolve(token string) (period.Range, error) {
	return period.ResolveAt(token, a.now())
}

// KPIs summarises a bank's transfers over the period.
func (a *Aggregator) KPIs(ctx context.Context, bankID, token string) (KPIs, error) {
	r, err := a.Resolve(token)
	if err != nil {
		return KPIs{}, err
	}
	return a.kpis(ctx, bankID, r)
}

// VolumeTrends returns per-day activity in ascending date order. Days
// without transfers are absent.
func (a *Aggregator) VolumeTrends(ctx context.Context, bankID, token string) ([]TrendPoint, error) {
	r, err := a.Resolve(token)
	if err != nil {
		return nil, err
	}
	return a.volumeTrends(ctx, bankID, r)
}

// TransferTypeDistribution groups transfers by type, largest count first.
// Percentage is left zero; the dashboard fills it in.
func (a *Aggregator) TransferTypeDistribution(ctx context.Context, bankID, token string) ([]TypeShare, error) {
	r, err := a.Resolve(token)
	if err != nil {
		return nil, err
	}
	return a.typeDistribution(ctx, bankID, r)
}

// NetworkPerformance groups transfers by network, largest volume first.
func (a *Aggregator) NetworkPerformance(ctx context.Context, bankID, token string) ([]NetworkStats, error) {
	r, err := a.Resolve(token)
	if err != nil {
		return nil, err
	}
	return a.networkPerformance(ctx, bankID, r)
}

func (a *Aggregator) kpis(ctx context.Context, bankID string, r period.Range) (KPIs, error) {
	var summary storage.Summary
	err := a.observe("kpis", bankID, func() error {
		var qErr error
		summary, qErr = a.reader.TransferSummary(ctx, bankID, r.Start, r.End, a.model.NativeFeeRate)
		return qErr
	})
	if err != nil {
		return KPIs{}, err
	}

	return KPIs{
		Period:            r.Token,
		TotalTransfers:    summary.Count,
		TotalVolume:       money(summary.Volume),
		TotalFees:         money(a.model.NativeFee(summary.Volume)),
		AvgSettlementTime: round2(summary.AvgSettlementSeconds),
		SuccessRate:       successRate(summary.Completed, summary.Count),
		TotalCostSavings:  money(summary.CostSavings),
		SwiftFeeTotal:     money(summary.SwiftFeeTotal),
		SavingsPercentage: percentage(summary.CostSavings, summary.SwiftFeeTotal),
	}, nil
}

func (a *Aggregator) volumeTrends(ctx context.Context, bankID string, r period.Range) ([]TrendPoint, error) {
	var days []storage.DaySummary
	err := a.observe("trends", bankID, func() error {
		var qErr error
		days, qErr = a.reader.DailySummaries(ctx, bankID, r.Start, r.End, a.model.NativeFeeRate)
		return qErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]TrendPoint, 0, len(days))
	for _, d := range days {
		out = append(out, TrendPoint{
			Date:              d.Day.UTC().Format(time.DateOnly),
			TransferCount:     d.Count,
			Volume:            money(d.Volume),
			Fees:              money(a.model.NativeFee(d.Volume)),
			SuccessRate:       successRate(d.Completed, d.Count),
			AvgSettlementTime: round2(d.AvgSettlementSeconds),
		})
	}
	return out, nil
}

func (a *Aggregator) typeDistribution(ctx context.Context, bankID string, r period.Range) ([]TypeShare, error) {
	var groups []storage.GroupSummary
	err := a.observe("distribution", bankID, func() error {
		var qErr error
		groups, qErr = a.reader.TypeSummaries(ctx, bankID, r.Start, r.End, a.model.NativeFeeRate)
		return qErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]TypeShare, 0, len(groups))
	for _, g := range groups {
		share := TypeShare{
			TransferType: g.Key,
			Count:        g.Count,
			Volume:       money(g.Volume),
		}
		if g.Count > 0 {
			share.AvgAmount = money(g.Volume.Div(decimal.NewFromInt(g.Count)))
		}
		out = append(out, share)
	}
	return out, nil
}

func (a *Aggregator) networkPerformance(ctx context.Context, bankID string, r period.Range) ([]NetworkStats, error) {
	var groups []storage.GroupSummary
	err := a.observe("networks", bankID, func() error {
		var qErr error
		groups, qErr = a.reader.NetworkSummaries(ctx, bankID, r.Start, r.End, a.model.NativeFeeRate)
		return qErr
	})
	if err != nil {
		return nil, err
	}

	out := make([]NetworkStats, 0, len(groups))
	for _, g := range groups {
		out = append(out, NetworkStats{
			Network:           g.Key,
			TransferCount:     g.Count,
			Volume:            money(g.Volume),
			TotalFees:         money(a.model.NativeFee(g.Volume)),
			AvgSettlementTime: round2(g.AvgSettlementSeconds),
			SuccessRate:       successRate(g.Completed, g.Count),
			TotalCostSavings:  money(g.CostSavings),
		})
	}
	return out, nil
}

func (a *Aggregator) observe(query, bankID string, fn func() error) error {
	if a.reader == nil {
		return fmt.Errorf("%w: %s: %w", ErrAggregationFailed, query, storage.ErrNotConfigured)
	}
	start := time.Now()
	err := fn()
	a.metrics.ObserveQuery(query, time.Since(start), err)
	if err != nil {
		a.logger.Error().Err(err).Str("query", query).Str("bank_id", bankID).Msg("aggregation query failed")
		return fmt.Errorf("%w: %s: %w", ErrAggregationFailed, query, err)
	}
	return nil
}

// successRate is completed/total as a percentage, 0 when total is 0.
func successRate(completed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return money(decimal.NewFromInt(completed).Mul(hundred).Div(decimal.NewFromInt(total)))
}

// percentage is part/whole*100, 0 when whole is 0. Negative parts are kept.
func percentage(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return money(part.Mul(hundred).Div(whole))
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func round2(f float64) float64 {
	return money(decimal.NewFromFloat(f))
}
