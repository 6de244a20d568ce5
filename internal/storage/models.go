package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusCompleted is the transfer status counted as a success.
const StatusCompleted = "completed"

// UnknownGroup labels transfers with no type or network recorded.
const UnknownGroup = "unknown"

// Transfer is a row of the transfers table. Optional columns are pointers.
type Transfer struct {
	ID                 string
	BankID             string
	Amount             decimal.Decimal
	Fee                *decimal.Decimal
	Status             string
	CreatedAt          time.Time
	NetworkUsed        *string
	SettlementSeconds  *int32
	TransferType       *string
	SwiftEquivalentFee *decimal.Decimal
}

// CostComparison is the persisted fee comparison for one transfer.
type CostComparison struct {
	ID                      int64
	TransactionID           string
	BankID                  string
	TransferAmount          decimal.Decimal
	NexoraFee               decimal.Decimal
	SwiftEquivalentFee      decimal.Decimal
	FeeSavings              decimal.Decimal
	NexoraSettlementSeconds int32
	SwiftSettlementSeconds  int32
	CreatedAt               time.Time
}

// TransferEnrichment carries the analytics columns written back to a transfer.
type TransferEnrichment struct {
	TransactionID      string
	NetworkUsed        string
	SettlementSeconds  int32
	TransferType       string
	SwiftEquivalentFee decimal.Decimal
}

// Summary is the raw aggregate over a set of transfers. Derived ratios are
// left to the caller.
type Summary struct {
	Count                int64
	Completed            int64
	Volume               decimal.Decimal
	AvgSettlementSeconds float64
	CostSavings          decimal.Decimal
	SwiftFeeTotal        decimal.Decimal
}

// DaySummary is a Summary for one UTC calendar day.
type DaySummary struct {
	Day time.Time
	Summary
}

// GroupSummary is a Summary for one transfer type or network.
type GroupSummary struct {
	Key string
	Summary
}

// DailyAggregate is a materialised per-bank, per-day rollup.
type DailyAggregate struct {
	BankID               string
	Day                  time.Time
	TransferCount        int64
	TotalVolume          decimal.Decimal
	TotalFees            decimal.Decimal
	AvgSettlementSeconds float64
	SuccessRate          decimal.Decimal
	SwiftFeeTotal        decimal.Decimal
	ActualFeeTotal       decimal.Decimal
	Savings              decimal.Decimal
	UpdatedAt            time.Time
}

// BankDay identifies one DailyAggregate row.
type BankDay struct {
	BankID string
	Day    time.Time
}
