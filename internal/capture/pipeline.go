// Package capture records the fee comparison for a transfer and enriches
// the transfer with its analytics columns.
package capture

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nexora-analytics/internal/alerting"
	"nexora-analytics/internal/config"
	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/storage"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid capture input")
	// ErrCaptureFailed wraps storage failures during a capture.
	ErrCaptureFailed = errors.New("capture failed")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Input is a capture request. Optional fields fall back to configured defaults.
type Input struct {
	TransactionID     string           `json:"transaction_id" validate:"required"`
	BankID            string           `json:"bank_id" validate:"required"`
	Amount            *decimal.Decimal `json:"amount" validate:"required"`
	NetworkUsed       string           `json:"network_used,omitempty"`
	SettlementSeconds *int             `json:"settlement_time_seconds,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	TransferType      string           `json:"transfer_type,omitempty"`
	Status            string           `json:"status,omitempty"`
}

// Result is the persisted comparison as returned to callers.
type Result struct {
	TransactionID     string  `json:"transaction_id"`
	BankID            string  `json:"bank_id"`
	Amount            float64 `json:"amount"`
	NexoraFee         float64 `json:"nexora_fee"`
	SwiftEquivalent   float64 `json:"swift_equivalent_fee"`
	FeeSavings        float64 `json:"fee_savings"`
	TimeSavingsHours  float64 `json:"time_savings_hours"`
	SettlementSeconds int     `json:"settlement_time_seconds"`
	NetworkUsed       string  `json:"network_used"`
	TransferType      string  `json:"transfer_type"`
	Status            string  `json:"status"`
	TransferMatched   bool    `json:"transfer_matched"`
}

// RollupTrigger recomputes the daily aggregate a capture touched.
type RollupTrigger interface {
	RecomputeForTransfer(ctx context.Context, bankID, transactionID string) error
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics records capture outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier forwards async capture failures.
func WithNotifier(n alerting.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithRollup recomputes the daily aggregate after async captures.
func WithRollup(r RollupTrigger) Option {
	return func(p *Pipeline) { p.rollup = r }
}

// WithAsyncTimeout bounds each detached capture.
func WithAsyncTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.asyncTimeout = d
		}
	}
}

// Pipeline validates, prices and persists captures.
type Pipeline struct {
	store    storage.CaptureStore
	model    costmodel.Model
	defaults config.CaptureConfig
	validate *validator.Validate
	logger   zerolog.Logger

	metrics      *metrics.Metrics
	notifier     alerting.Notifier
	rollup       RollupTrigger
	asyncTimeout time.Duration

	inflight sync.WaitGroup
}

// NewPipeline builds a capture pipeline.
func NewPipeline(store storage.CaptureStore, model costmodel.Model, defaults config.CaptureConfig, logger zerolog.Logger, opts ...Option) *Pipeline {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	p := &Pipeline{
		store:        store,
		model:        model,
		defaults:     defaults,
		validate:     v,
		logger:       logger.With().Str("component", "capture").Logger(),
		asyncTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capture persists the comparison for in and enriches the matching transfer.
// Re-capturing a transaction overwrites the earlier comparison.
func (p *Pipeline) Capture(ctx context.Context, in Input) (Result, error) {
	res, err := p.capture(ctx, in)
	p.metrics.CaptureResult("sync", outcome(err))
	return res, err
}

func (p *Pipeline) capture(ctx context.Context, in Input) (Result, error) {
	if err := p.check(in); err != nil {
		return Result{}, err
	}
	if p.store == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCaptureFailed, storage.ErrNotConfigured)
	}

	in = p.applyDefaults(in)
	settlement := time.Duration(*in.SettlementSeconds) * time.Second
	cmp := p.model.Compare(*in.Amount, settlement)

	amount := in.Amount.Round(2)
	nativeFee := cmp.NativeFee.Round(2)
	swiftFee := cmp.ExternalFee.Round(2)

	record := storage.CostComparison{
		TransactionID:           in.TransactionID,
		BankID:                  in.BankID,
		TransferAmount:          amount,
		NexoraFee:               nativeFee,
		SwiftEquivalentFee:      swiftFee,
		FeeSavings:              swiftFee.Sub(nativeFee),
		NexoraSettlementSeconds: int32(*in.SettlementSeconds),
		SwiftSettlementSeconds:  int32(cmp.ExternalSettlement / time.Second),
	}
	enrich := storage.TransferEnrichment{
		TransactionID:      in.TransactionID,
		NetworkUsed:        in.NetworkUsed,
		SettlementSeconds:  int32(*in.SettlementSeconds),
		TransferType:       in.TransferType,
		SwiftEquivalentFee: swiftFee,
	}

	stored, matched, err := p.store.CaptureTransfer(ctx, record, enrich)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrCaptureFailed, in.TransactionID, err)
	}
	if !matched {
		p.logger.Debug().Str("transaction_id", in.TransactionID).Msg("no transfer record to enrich")
	}

	return Result{
		TransactionID:     stored.TransactionID,
		BankID:            stored.BankID,
		Amount:            stored.TransferAmount.InexactFloat64(),
		NexoraFee:         stored.NexoraFee.InexactFloat64(),
		SwiftEquivalent:   stored.SwiftEquivalentFee.InexactFloat64(),
		FeeSavings:        stored.FeeSavings.InexactFloat64(),
		TimeSavingsHours:  cmp.TimeSavingsHours.InexactFloat64(),
		SettlementSeconds: *in.SettlementSeconds,
		NetworkUsed:       in.NetworkUsed,
		TransferType:      in.TransferType,
		Status:            in.Status,
		TransferMatched:   matched,
	}, nil
}

// Get returns the stored comparison for a transaction.
func (p *Pipeline) Get(ctx context.Context, transactionID string) (storage.CostComparison, error) {
	if p.store == nil {
		return storage.CostComparison{}, storage.ErrNotConfigured
	}
	return p.store.GetCostComparison(ctx, transactionID)
}

// CaptureAsync runs a capture detached from ctx's cancellation. Failures
// are logged and alerted, never returned.
func (p *Pipeline) CaptureAsync(ctx context.Context, in Input) {
	detached := context.WithoutCancel(ctx)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		runCtx, cancel := context.WithTimeout(detached, p.asyncTimeout)
		defer cancel()

		_, err := p.capture(runCtx, in)
		p.metrics.CaptureResult("async", outcome(err))
		if err != nil {
			p.reportFailure(runCtx, in, err)
			return
		}

		if p.rollup == nil {
			return
		}
		if err := p.rollup.RecomputeForTransfer(runCtx, in.BankID, in.TransactionID); err != nil {
			p.logger.Warn().Err(err).
				Str("transaction_id", in.TransactionID).
				Str("bank_id", in.BankID).
				Msg("daily aggregate refresh failed after capture")
		}
	}()
}

// Wait blocks until every CaptureAsync call has finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) reportFailure(ctx context.Context, in Input, err error) {
	amount := decimal.Zero
	if in.Amount != nil {
		amount = *in.Amount
	}
	p.logger.Error().Err(err).
		Str("transaction_id", in.TransactionID).
		Str("bank_id", in.BankID).
		Str("amount", amount.String()).
		Msg("analytics capture failed")

	if p.notifier == nil {
		return
	}
	failure := alerting.CaptureFailure{
		TransactionID: in.TransactionID,
		BankID:        in.BankID,
		Amount:        amount,
		Source:        "async",
		Err:           err.Error(),
		OccurredAt:    time.Now().UTC(),
	}
	if notifyErr := p.notifier.Notify(ctx, failure); notifyErr != nil {
		p.logger.Warn().Err(notifyErr).Str("transaction_id", in.TransactionID).Msg("failed to send capture alert")
	}
}

func (p *Pipeline) check(in Input) error {
	err := p.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return &ValidationError{Field: fe.Field()}
		case "lte":
			return &ValidationError{Field: fe.Field(), Reason: "must not exceed " + fe.Param()}
		default:
			return &ValidationError{Field: fe.Field(), Reason: "must not be negative"}
		}
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func (p *Pipeline) applyDefaults(in Input) Input {
	if in.NetworkUsed == "" {
		in.NetworkUsed = p.defaults.DefaultNetwork
	}
	if in.TransferType == "" {
		in.TransferType = p.defaults.DefaultType
	}
	if in.Status == "" {
		in.Status = p.defaults.DefaultStatus
	}
	if in.SettlementSeconds == nil {
		secs := int(p.defaults.DefaultSettlement / time.Second)
		in.SettlementSeconds = &secs
	}
	return in
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrValidation):
		return metrics.ResultInvalid
	default:
		return metrics.ResultFailed
	}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}
