// Package costmodel prices a transfer on the native rail and on a
// SWIFT-style correspondent route.
package costmodel

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"nexora-analytics/internal/config"
)

var hour = decimal.NewFromInt(3600)

// Model holds the fee constants. The zero value prices everything at zero.
type Model struct {
	WireFee            decimal.Decimal
	CorrespondentFee   decimal.Decimal
	FXMarginRate       decimal.Decimal
	NativeFeeRate      decimal.Decimal
	ExternalSettlement time.Duration
}

// Comparison is the fee and settlement breakdown for one amount.
type Comparison struct {
	Amount             decimal.Decimal
	NativeFee          decimal.Decimal
	ExternalFee        decimal.Decimal
	Savings            decimal.Decimal
	NativeSettlement   time.Duration
	ExternalSettlement time.Duration
	TimeSavingsHours   decimal.Decimal
}

// Default returns the reference constants: 25.00 wire, 15.00 correspondent,
// 2.5% FX margin, 0.1% native rate and a 72h correspondent settlement.
func Default() Model {
	return Model{
		WireFee:            decimal.NewFromInt(25),
		CorrespondentFee:   decimal.NewFromInt(15),
		FXMarginRate:       decimal.RequireFromString("0.025"),
		NativeFeeRate:      decimal.RequireFromString("0.001"),
		ExternalSettlement: 72 * time.Hour,
	}
}

// FromConfig builds a model from the analytics.cost_model section.
func FromConfig(cfg config.CostModelConfig) (Model, error) {
	m := Model{
		WireFee:            decimal.NewFromFloat(cfg.WireFee),
		CorrespondentFee:   decimal.NewFromFloat(cfg.CorrespondentFee),
		FXMarginRate:       decimal.NewFromFloat(cfg.FXMarginRate),
		NativeFeeRate:      decimal.NewFromFloat(cfg.NativeFeeRate),
		ExternalSettlement: cfg.ExternalSettlement,
	}
	if err := m.Validate(); err != nil {
		return Model{}, err
	}
	return m, nil
}

// Validate rejects negative constants.
func (m Model) Validate() error {
	if m.WireFee.IsNegative() || m.CorrespondentFee.IsNegative() {
		return fmt.Errorf("cost model: fixed fees cannot be negative")
	}
	if m.FXMarginRate.IsNegative() || m.NativeFeeRate.IsNegative() {
		return fmt.Errorf("cost model: rates cannot be negative")
	}
	if m.ExternalSettlement < 0 {
		return fmt.Errorf("cost model: external settlement cannot be negative")
	}
	return nil
}

// ExternalEquivalentFee is wire + correspondent + amount*fxMargin.
// A negative amount yields a negative FX component; amounts are validated upstream.
func (m Model) ExternalEquivalentFee(amount decimal.Decimal) decimal.Decimal {
	return m.WireFee.Add(m.CorrespondentFee).Add(amount.Mul(m.FXMarginRate))
}

// NativeFee is amount*nativeRate. Negative amounts yield negative fees.
func (m Model) NativeFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(m.NativeFeeRate)
}

// Compare prices amount on both rails.
func (m Model) Compare(amount decimal.Decimal, nativeSettlement time.Duration) Comparison {
	external := m.ExternalEquivalentFee(amount)
	native := m.NativeFee(amount)
	return Comparison{
		Amount:             amount,
		NativeFee:          native,
		ExternalFee:        external,
		Savings:            external.Sub(native),
		NativeSettlement:   nativeSettlement,
		ExternalSettlement: m.ExternalSettlement,
		TimeSavingsHours:   m.TimeSavingsHours(nativeSettlement),
	}
}

// TimeSavingsHours is the correspondent settlement minus native, in hours (2dp).
func (m Model) TimeSavingsHours(nativeSettlement time.Duration) decimal.Decimal {
	diff := m.ExternalSettlement - nativeSettlement
	return decimal.NewFromFloat(diff.Seconds()).Div(hour).Round(2)
}
