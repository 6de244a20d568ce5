package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"nexora-analytics/internal/config"
)

var nativeRate = decimal.RequireFromString("0.001")

// setupTestStore starts a PostgreSQL container, applies the embedded
// migrations and returns a Store bound to it.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("nexora"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)
	require.NoError(t, migrator.Close())

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)

	store := NewStore(pool)
	t.Cleanup(store.Close)
	return store
}

func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func insertTransfer(t *testing.T, store *Store, tr Transfer) {
	t.Helper()
	_, err := store.InsertTransfer(context.Background(), tr)
	require.NoError(t, err)
}

func TestStore_CaptureTransferIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	insertTransfer(t, store, Transfer{ID: "t1", BankID: "b1", Amount: dec("50000"), Status: "completed"})

	first := CostComparison{
		TransactionID:           "t1",
		BankID:                  "b1",
		TransferAmount:          dec("50000"),
		NexoraFee:               dec("50"),
		SwiftEquivalentFee:      dec("1290"),
		FeeSavings:              dec("1240"),
		NexoraSettlementSeconds: 25,
		SwiftSettlementSeconds:  259200,
	}
	stored, matched, err := store.CaptureTransfer(ctx, first, TransferEnrichment{
		TransactionID:      "t1",
		NetworkUsed:        "polygon",
		SettlementSeconds:  25,
		TransferType:       "interbank",
		SwiftEquivalentFee: dec("1290"),
	})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, stored.FeeSavings.Equal(dec("1240")))

	second := first
	second.TransferAmount = dec("100000")
	second.NexoraFee = dec("100")
	second.SwiftEquivalentFee = dec("2540")
	second.FeeSavings = dec("2440")
	restored, _, err := store.CaptureTransfer(ctx, second, TransferEnrichment{
		TransactionID:      "t1",
		NetworkUsed:        "polygon",
		SettlementSeconds:  25,
		TransferType:       "interbank",
		SwiftEquivalentFee: dec("2540"),
	})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, restored.ID)
	assert.False(t, restored.CreatedAt.Before(stored.CreatedAt))

	var rows int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cost_comparisons WHERE transaction_id = 't1'`).Scan(&rows))
	assert.Equal(t, 1, rows)

	got, err := store.GetCostComparison(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.TransferAmount.Equal(dec("100000")))
	assert.True(t, got.SwiftEquivalentFee.Equal(dec("2540")))
	assert.True(t, got.FeeSavings.Equal(dec("2440")))
}

func TestStore_CaptureWithoutTransferIsNotAnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, matched, err := store.CaptureTransfer(ctx, CostComparison{
		TransactionID:      "ghost",
		BankID:             "b1",
		TransferAmount:     dec("10"),
		NexoraFee:          dec("0.01"),
		SwiftEquivalentFee: dec("40.25"),
		FeeSavings:         dec("40.24"),
	}, TransferEnrichment{TransactionID: "ghost", NetworkUsed: "native", TransferType: "interbank", SwiftEquivalentFee: dec("40.25")})
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = store.GetCostComparison(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_SummariesOnEmptyWindow(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	summary, err := store.TransferSummary(ctx, "nobody", now.Add(-time.Hour), now, nativeRate)
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
	assert.True(t, summary.Volume.IsZero())
	assert.True(t, summary.SwiftFeeTotal.IsZero())
	assert.Zero(t, summary.AvgSettlementSeconds)

	days, err := store.DailySummaries(ctx, "nobody", now.Add(-time.Hour), now, nativeRate)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestStore_GroupedSummaries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour)

	insertTransfer(t, store, Transfer{ID: "a", BankID: "b1", Amount: dec("100"), Status: "completed", CreatedAt: base, TransferType: ptr("interbank"), NetworkUsed: ptr("polygon"), SettlementSeconds: ptr(int32(20))})
	insertTransfer(t, store, Transfer{ID: "b", BankID: "b1", Amount: dec("300"), Status: "pending", CreatedAt: base.Add(time.Minute), TransferType: ptr("interbank"), SettlementSeconds: ptr(int32(40))})
	insertTransfer(t, store, Transfer{ID: "c", BankID: "b1", Amount: dec("1000"), Status: "completed", CreatedAt: base.Add(25 * time.Hour)})
	insertTransfer(t, store, Transfer{ID: "d", BankID: "other", Amount: dec("5"), Status: "completed", CreatedAt: base})

	from, to := base.Add(-time.Hour), time.Now().UTC()

	summary, err := store.TransferSummary(ctx, "b1", from, to, nativeRate)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Count)
	assert.Equal(t, int64(2), summary.Completed)
	assert.True(t, summary.Volume.Equal(dec("1400")))
	assert.InDelta(t, 30.0, summary.AvgSettlementSeconds, 1e-9)

	types, err := store.TypeSummaries(ctx, "b1", from, to, nativeRate)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "interbank", types[0].Key)
	assert.Equal(t, int64(2), types[0].Count)
	assert.Equal(t, UnknownGroup, types[1].Key)

	networks, err := store.NetworkSummaries(ctx, "b1", from, to, nativeRate)
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, UnknownGroup, networks[0].Key)
	assert.True(t, networks[0].Volume.Equal(dec("1300")))

	days, err := store.DailySummaries(ctx, "b1", from, to, nativeRate)
	require.NoError(t, err)
	require.NotEmpty(t, days)
	for i := 1; i < len(days); i++ {
		assert.True(t, days[i-1].Day.Before(days[i].Day))
	}
}

func TestStore_InsertTransferDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	insertTransfer(t, store, Transfer{ID: "dup", BankID: "b1", Amount: dec("1")})
	_, err := store.InsertTransfer(ctx, Transfer{ID: "dup", BankID: "b1", Amount: dec("2")})
	assert.True(t, errors.Is(err, ErrDuplicateTransfer))

	day, ok, err := store.TransferDay(ctx, "dup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, truncateDay(time.Now()), day.UTC())

	_, ok, err = store.TransferDay(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RecomputeDailyConverges(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	insertTransfer(t, store, Transfer{ID: "x1", BankID: "b1", Amount: dec("1000"), Fee: ptr(dec("1")), Status: "completed", CreatedAt: day.Add(2 * time.Hour)})
	insertTransfer(t, store, Transfer{ID: "x2", BankID: "b1", Amount: dec("3000"), Status: "failed", CreatedAt: day.Add(20 * time.Hour)})
	insertTransfer(t, store, Transfer{ID: "x3", BankID: "b1", Amount: dec("9999"), Status: "completed", CreatedAt: day.Add(26 * time.Hour)})

	for i := 0; i < 3; i++ {
		written, err := store.RecomputeDaily(ctx, "b1", day.Add(13*time.Hour), nativeRate)
		require.NoError(t, err)
		assert.True(t, written)
	}

	aggs, err := store.ListDailyAggregates(ctx, "b1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	agg := aggs[0]
	assert.Equal(t, int64(2), agg.TransferCount)
	assert.True(t, agg.TotalVolume.Equal(dec("4000")))
	assert.True(t, agg.TotalFees.Equal(dec("1")))
	assert.True(t, agg.ActualFeeTotal.Equal(dec("4")))
	assert.True(t, agg.SuccessRate.Equal(dec("50")))

	active, err := store.ListActiveDays(ctx, day, day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, active, 2)

	written, err := store.RecomputeDaily(ctx, "b1", day.AddDate(0, 0, 5), nativeRate)
	require.NoError(t, err)
	assert.False(t, written)
}

func TestStore_AdvisoryLockIsExclusive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, again, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, again)

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}

func TestStore_NilPool(t *testing.T) {
	var store *Store
	_, err := store.TransferSummary(context.Background(), "b1", time.Now(), time.Now(), nativeRate)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
