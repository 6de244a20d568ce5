package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateTransfer is returned when a transfer id already exists.
	ErrDuplicateTransfer = errors.New("storage: transfer already exists")
)

// summaryColumns aggregates a transfer set. $4 is the native fee rate.
// Cost savings and SWIFT totals only see captured rows: a NULL
// swift_equivalent_fee makes the row's term NULL and SUM skips it.
const summaryColumns = `
        COUNT(*),
        COALESCE(SUM(amount), 0)::text,
        COALESCE(AVG(settlement_time_seconds), 0)::float8,
        COUNT(*) FILTER (WHERE status = 'completed'),
        COALESCE(SUM(swift_equivalent_fee - amount * $4::numeric), 0)::text,
        COALESCE(SUM(swift_equivalent_fee), 0)::text`

const periodFilter = `
    FROM transfers
    WHERE bank_id = $1
      AND created_at >= $2
      AND created_at < $3`

const (
	transferSummarySQL = `SELECT` + summaryColumns + periodFilter + `;`

	dailySummarySQL = `SELECT
        (created_at AT TIME ZONE 'UTC')::date AS day,` + summaryColumns + periodFilter + `
    GROUP BY day
    ORDER BY day ASC;`

	typeSummarySQL = `SELECT
        COALESCE(transfer_type, 'unknown') AS transfer_type,` + summaryColumns + periodFilter + `
    GROUP BY 1
    ORDER BY COUNT(*) DESC, 1 ASC;`

	networkSummarySQL = `SELECT
        COALESCE(network_used, 'unknown') AS network_used,` + summaryColumns + periodFilter + `
    GROUP BY 1
    ORDER BY SUM(amount) DESC, 1 ASC;`

	insertTransferSQL = `INSERT INTO transfers (
        id,
        bank_id,
        amount,
        fee,
        status,
        created_at,
        network_used,
        settlement_time_seconds,
        transfer_type
    ) VALUES (
        $1,$2,$3,$4,$5,COALESCE($6::timestamptz, NOW()),$7,$8,$9
    )
    RETURNING created_at;`

	transferDaySQL = `SELECT (created_at AT TIME ZONE 'UTC')::date
    FROM transfers
    WHERE id = $1;`

	upsertCostComparisonSQL = `INSERT INTO cost_comparisons (
        transaction_id,
        bank_id,
        transfer_amount,
        nexora_fee,
        swift_equivalent_fee,
        fee_savings,
        nexora_settlement_seconds,
        swift_settlement_seconds
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (transaction_id) DO UPDATE
    SET
        bank_id                   = EXCLUDED.bank_id,
        transfer_amount           = EXCLUDED.transfer_amount,
        nexora_fee                = EXCLUDED.nexora_fee,
        swift_equivalent_fee      = EXCLUDED.swift_equivalent_fee,
        fee_savings               = EXCLUDED.fee_savings,
        nexora_settlement_seconds = EXCLUDED.nexora_settlement_seconds,
        swift_settlement_seconds  = EXCLUDED.swift_settlement_seconds,
        created_at                = NOW()
    RETURNING ` + costComparisonColumns + `;`

	costComparisonColumns = `id,
        transaction_id,
        bank_id,
        transfer_amount::text,
        nexora_fee::text,
        swift_equivalent_fee::text,
        fee_savings::text,
        nexora_settlement_seconds,
        swift_settlement_seconds,
        created_at`

	getCostComparisonSQL = `SELECT ` + costComparisonColumns + `
    FROM cost_comparisons
    WHERE transaction_id = $1;`

	enrichTransferSQL = `UPDATE transfers
    SET network_used            = $2,
        settlement_time_seconds = $3,
        transfer_type           = $4,
        swift_equivalent_fee    = $5
    WHERE id = $1;`

	recomputeDailySQL = `INSERT INTO daily_aggregates (
        bank_id,
        day,
        transfer_count,
        total_volume,
        total_fees,
        avg_settlement_seconds,
        success_rate,
        swift_fee_total,
        actual_fee_total,
        savings,
        updated_at
    )
    SELECT
        $1::text,
        $2::date,
        COUNT(*),
        SUM(amount),
        COALESCE(SUM(fee), 0),
        COALESCE(AVG(settlement_time_seconds), 0)::float8,
        ROUND(COUNT(*) FILTER (WHERE status = 'completed') * 100.0 / COUNT(*), 2),
        COALESCE(SUM(swift_equivalent_fee), 0),
        SUM(amount) * $5::numeric,
        COALESCE(SUM(swift_equivalent_fee - amount * $5::numeric), 0),
        NOW()
    FROM transfers
    WHERE bank_id = $1
      AND created_at >= $3
      AND created_at < $4
    HAVING COUNT(*) > 0
    ON CONFLICT (bank_id, day) DO UPDATE
    SET
        transfer_count         = EXCLUDED.transfer_count,
        total_volume           = EXCLUDED.total_volume,
        total_fees             = EXCLUDED.total_fees,
        avg_settlement_seconds = EXCLUDED.avg_settlement_seconds,
        success_rate           = EXCLUDED.success_rate,
        swift_fee_total        = EXCLUDED.swift_fee_total,
        actual_fee_total       = EXCLUDED.actual_fee_total,
        savings                = EXCLUDED.savings,
        updated_at             = EXCLUDED.updated_at;`

	deleteDailySQL = `DELETE FROM daily_aggregates WHERE bank_id = $1 AND day = $2::date;`

	listDailySQL = `SELECT
        bank_id,
        day,
        transfer_count,
        total_volume::text,
        total_fees::text,
        avg_settlement_seconds,
        success_rate::text,
        swift_fee_total::text,
        actual_fee_total::text,
        savings::text,
        updated_at
    FROM daily_aggregates
    WHERE bank_id = $1
      AND day >= $2::date
      AND day < $3::date
    ORDER BY day ASC;`

	listActiveDaysSQL = `SELECT DISTINCT
        bank_id,
        (created_at AT TIME ZONE 'UTC')::date AS day
    FROM transfers
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY day ASC, bank_id ASC;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MetricsReader exposes the aggregation queries behind the metrics endpoints.
type MetricsReader interface {
	TransferSummary(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) (Summary, error)
	DailySummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]DaySummary, error)
	TypeSummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]GroupSummary, error)
	NetworkSummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]GroupSummary, error)
}

// CaptureStore persists cost comparisons and enriches transfers.
type CaptureStore interface {
	CaptureTransfer(ctx context.Context, cc CostComparison, enrich TransferEnrichment) (CostComparison, bool, error)
	GetCostComparison(ctx context.Context, transactionID string) (CostComparison, error)
}

// TransferStore creates and locates transfer records.
type TransferStore interface {
	InsertTransfer(ctx context.Context, t Transfer) (Transfer, error)
	TransferDay(ctx context.Context, transactionID string) (time.Time, bool, error)
}

// DailyAggregateStore recomputes and reads the per-day rollup.
type DailyAggregateStore interface {
	RecomputeDaily(ctx context.Context, bankID string, day time.Time, nativeRate decimal.Decimal) (bool, error)
	ListDailyAggregates(ctx context.Context, bankID string, fromDay, toDay time.Time) ([]DailyAggregate, error)
	ListActiveDays(ctx context.Context, from, to time.Time) ([]BankDay, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements every storage interface on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// TransferSummary aggregates all transfers of a bank within [from, to).
func (s *Store) TransferSummary(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) (Summary, error) {
	pool, err := s.getPool()
	if err != nil {
		return Summary{}, err
	}

	row := pool.QueryRow(ctx, transferSummarySQL, bankID, from, to, nativeRate.String())
	summary, err := scanSummary(row)
	if err != nil {
		return Summary{}, fmt.Errorf("transfer summary: %w", err)
	}
	return summary, nil
}

// DailySummaries aggregates transfers per UTC day, ascending.
func (s *Store) DailySummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]DaySummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, dailySummarySQL, bankID, from, to, nativeRate.String())
	if queryErr != nil {
		return nil, fmt.Errorf("daily summaries: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DaySummary, 0)
	for rows.Next() {
		var day time.Time
		summary, scanErr := scanSummary(rows, &day)
		if scanErr != nil {
			return nil, fmt.Errorf("scan daily summary: %w", scanErr)
		}
		out = append(out, DaySummary{Day: day, Summary: summary})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// TypeSummaries aggregates transfers per transfer type, by descending count.
func (s *Store) TypeSummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]GroupSummary, error) {
	return s.groupSummaries(ctx, "type summaries", typeSummarySQL, bankID, from, to, nativeRate)
}

// NetworkSummaries aggregates transfers per network, by descending volume.
func (s *Store) NetworkSummaries(ctx context.Context, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]GroupSummary, error) {
	return s.groupSummaries(ctx, "network summaries", networkSummarySQL, bankID, from, to, nativeRate)
}

func (s *Store) groupSummaries(ctx context.Context, op, query, bankID string, from, to time.Time, nativeRate decimal.Decimal) ([]GroupSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, bankID, from, to, nativeRate.String())
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	out := make([]GroupSummary, 0)
	for rows.Next() {
		var key string
		summary, scanErr := scanSummary(rows, &key)
		if scanErr != nil {
			return nil, fmt.Errorf("scan %s: %w", op, scanErr)
		}
		out = append(out, GroupSummary{Key: key, Summary: summary})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertTransfer creates a transfer record. A zero CreatedAt uses the database clock.
func (s *Store) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	pool, err := s.getPool()
	if err != nil {
		return Transfer{}, err
	}

	var createdAt interface{}
	if !t.CreatedAt.IsZero() {
		createdAt = t.CreatedAt
	}
	status := t.Status
	if status == "" {
		status = "pending"
	}

	row := pool.QueryRow(ctx, insertTransferSQL,
		t.ID,
		t.BankID,
		t.Amount.String(),
		optionalDecimal(t.Fee),
		status,
		createdAt,
		t.NetworkUsed,
		t.SettlementSeconds,
		t.TransferType,
	)
	if scanErr := row.Scan(&t.CreatedAt); scanErr != nil {
		if isDuplicateKeyError(scanErr) {
			return Transfer{}, fmt.Errorf("%w: %s", ErrDuplicateTransfer, t.ID)
		}
		return Transfer{}, fmt.Errorf("insert transfer: %w", scanErr)
	}
	t.Status = status
	return t, nil
}

// TransferDay returns the UTC day a transfer was created on.
func (s *Store) TransferDay(ctx context.Context, transactionID string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var day time.Time
	if scanErr := pool.QueryRow(ctx, transferDaySQL, transactionID).Scan(&day); scanErr != nil {
		if isNotFoundError(scanErr) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("transfer day: %w", scanErr)
	}
	return day, true, nil
}

// CaptureTransfer upserts the cost comparison and enriches the matching
// transfer in one transaction. The bool reports whether a transfer matched.
func (s *Store) CaptureTransfer(ctx context.Context, cc CostComparison, enrich TransferEnrichment) (CostComparison, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return CostComparison{}, false, err
	}

	var stored CostComparison
	var matched bool
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, upsertCostComparisonSQL,
			cc.TransactionID,
			cc.BankID,
			cc.TransferAmount.String(),
			cc.NexoraFee.String(),
			cc.SwiftEquivalentFee.String(),
			cc.FeeSavings.String(),
			cc.NexoraSettlementSeconds,
			cc.SwiftSettlementSeconds,
		)
		var scanErr error
		stored, scanErr = scanCostComparison(row)
		if scanErr != nil {
			return fmt.Errorf("upsert cost comparison: %w", scanErr)
		}

		tag, execErr := tx.Exec(ctx, enrichTransferSQL,
			enrich.TransactionID,
			enrich.NetworkUsed,
			enrich.SettlementSeconds,
			enrich.TransferType,
			enrich.SwiftEquivalentFee.String(),
		)
		if execErr != nil {
			return fmt.Errorf("enrich transfer: %w", execErr)
		}
		matched = tag.RowsAffected() > 0
		return nil
	})
	if txErr != nil {
		return CostComparison{}, false, txErr
	}
	return stored, matched, nil
}

// GetCostComparison fetches the comparison recorded for a transfer.
func (s *Store) GetCostComparison(ctx context.Context, transactionID string) (CostComparison, error) {
	pool, err := s.getPool()
	if err != nil {
		return CostComparison{}, err
	}

	cc, scanErr := scanCostComparison(pool.QueryRow(ctx, getCostComparisonSQL, transactionID))
	if scanErr != nil {
		if isNotFoundError(scanErr) {
			return CostComparison{}, ErrNotFound
		}
		return CostComparison{}, fmt.Errorf("get cost comparison: %w", scanErr)
	}
	return cc, nil
}

// RecomputeDaily rebuilds one bank's aggregate for the UTC day containing
// day. It reports false, after removing any stale row, when the day has no
// transfers.
func (s *Store) RecomputeDaily(ctx context.Context, bankID string, day time.Time, nativeRate decimal.Decimal) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	start := truncateDay(day)
	end := start.AddDate(0, 0, 1)

	var written bool
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, recomputeDailySQL, bankID, start, start, end, nativeRate.String())
		if execErr != nil {
			return fmt.Errorf("recompute daily aggregate: %w", execErr)
		}
		written = tag.RowsAffected() > 0
		if written {
			return nil
		}
		if _, execErr := tx.Exec(ctx, deleteDailySQL, bankID, start); execErr != nil {
			return fmt.Errorf("delete empty daily aggregate: %w", execErr)
		}
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return written, nil
}

// ListDailyAggregates lists stored aggregates for days in [fromDay, toDay).
func (s *Store) ListDailyAggregates(ctx context.Context, bankID string, fromDay, toDay time.Time) ([]DailyAggregate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDailySQL, bankID, truncateDay(fromDay), truncateDay(toDay))
	if queryErr != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DailyAggregate, 0)
	for rows.Next() {
		agg, scanErr := scanDailyAggregate(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, agg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListActiveDays lists every (bank, UTC day) with transfers in [from, to).
func (s *Store) ListActiveDays(ctx context.Context, from, to time.Time) ([]BankDay, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveDaysSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list active days: %w", queryErr)
	}
	defer rows.Close()

	out := make([]BankDay, 0)
	for rows.Next() {
		var bd BankDay
		if err := rows.Scan(&bd.BankID, &bd.Day); err != nil {
			return nil, err
		}
		out = append(out, bd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanSummary(row pgx.Row, lead ...any) (Summary, error) {
	var (
		summary    Summary
		volumeStr  string
		savingsStr string
		swiftStr   string
	)

	dest := append(lead,
		&summary.Count,
		&volumeStr,
		&summary.AvgSettlementSeconds,
		&summary.Completed,
		&savingsStr,
		&swiftStr,
	)
	if err := row.Scan(dest...); err != nil {
		return Summary{}, err
	}

	var err error
	if summary.Volume, err = decimal.NewFromString(volumeStr); err != nil {
		return Summary{}, fmt.Errorf("parse volume: %w", err)
	}
	if summary.CostSavings, err = decimal.NewFromString(savingsStr); err != nil {
		return Summary{}, fmt.Errorf("parse cost savings: %w", err)
	}
	if summary.SwiftFeeTotal, err = decimal.NewFromString(swiftStr); err != nil {
		return Summary{}, fmt.Errorf("parse swift fee total: %w", err)
	}
	return summary, nil
}

func scanCostComparison(row pgx.Row) (CostComparison, error) {
	var (
		cc                                    CostComparison
		amountStr, nexoraStr, swiftStr, saved string
	)
	if err := row.Scan(
		&cc.ID,
		&cc.TransactionID,
		&cc.BankID,
		&amountStr,
		&nexoraStr,
		&swiftStr,
		&saved,
		&cc.NexoraSettlementSeconds,
		&cc.SwiftSettlementSeconds,
		&cc.CreatedAt,
	); err != nil {
		return CostComparison{}, err
	}

	var err error
	if cc.TransferAmount, err = decimal.NewFromString(amountStr); err != nil {
		return CostComparison{}, fmt.Errorf("parse transfer amount: %w", err)
	}
	if cc.NexoraFee, err = decimal.NewFromString(nexoraStr); err != nil {
		return CostComparison{}, fmt.Errorf("parse nexora fee: %w", err)
	}
	if cc.SwiftEquivalentFee, err = decimal.NewFromString(swiftStr); err != nil {
		return CostComparison{}, fmt.Errorf("parse swift fee: %w", err)
	}
	if cc.FeeSavings, err = decimal.NewFromString(saved); err != nil {
		return CostComparison{}, fmt.Errorf("parse fee savings: %w", err)
	}
	return cc, nil
}

func scanDailyAggregate(rows pgx.Rows) (DailyAggregate, error) {
	var (
		agg                                          DailyAggregate
		volume, fees, success, swift, actual, saving string
	)
	if err := rows.Scan(
		&agg.BankID,
		&agg.Day,
		&agg.TransferCount,
		&volume,
		&fees,
		&agg.AvgSettlementSeconds,
		&success,
		&swift,
		&actual,
		&saving,
		&agg.UpdatedAt,
	); err != nil {
		return DailyAggregate{}, err
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"total volume", volume, &agg.TotalVolume},
		{"total fees", fees, &agg.TotalFees},
		{"success rate", success, &agg.SuccessRate},
		{"swift fee total", swift, &agg.SwiftFeeTotal},
		{"actual fee total", actual, &agg.ActualFeeTotal},
		{"savings", saving, &agg.Savings},
	}
	for _, f := range fields {
		parsed, err := decimal.NewFromString(f.raw)
		if err != nil {
			return DailyAggregate{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = parsed
	}
	return agg, nil
}

func optionalDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

var (
	_ MetricsReader       = (*Store)(nil)
	_ CaptureStore        = (*Store)(nil)
	_ TransferStore       = (*Store)(nil)
	_ DailyAggregateStore = (*Store)(nil)
	_ AdvisoryLocker      = (*Store)(nil)
)
