package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"nexora-analytics/internal/alerting"
	"nexora-analytics/internal/capture"
)

// Capture records one cost comparison and refreshes its daily aggregate.
func (a *App) Capture(ctx context.Context, in capture.Input) error {
	svc, closeStore, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := svc.pipeline.Capture(ctx, in)
	if err != nil {
		return err
	}
	if err := svc.rollup.RecomputeForTransfer(ctx, res.BankID, res.TransactionID); err != nil {
		a.Logger.Warn().Err(err).Str("transaction_id", res.TransactionID).Msg("daily aggregate refresh failed")
	}

	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// TestAlert sends a synthetic capture failure through the configured notifier.
func (a *App) TestAlert(ctx context.Context, transactionID, bankID string, amount decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := alerting.New(a.Config.Alerting, a.Logger)
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	return notifier.Notify(ctx, alerting.CaptureFailure{
		TransactionID: transactionID,
		BankID:        bankID,
		Amount:        amount,
		Source:        "test-alert",
		Err:           "synthetic failure",
		OccurredAt:    time.Now().UTC(),
	})
}
