package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora-analytics/internal/alerting"
	"nexora-analytics/internal/config"
	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/storage"
)

// memStore keeps one comparison per transaction id, like the unique index.
type memStore struct {
	mu        sync.Mutex
	rows      map[string]storage.CostComparison
	transfers map[string]storage.TransferEnrichment
	known     map[string]bool
	nextID    int64
	err       error
}

func newMemStore(known ...string) *memStore {
	s := &memStore{
		rows:      make(map[string]storage.CostComparison),
		transfers: make(map[string]storage.TransferEnrichment),
		known:     make(map[string]bool),
	}
	for _, id := range known {
		s.known[id] = true
	}
	return s
}

func (s *memStore) CaptureTransfer(_ context.Context, cc storage.CostComparison, enrich storage.TransferEnrichment) (storage.CostComparison, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return storage.CostComparison{}, false, s.err
	}
	if prev, ok := s.rows[cc.TransactionID]; ok {
		cc.ID = prev.ID
	} else {
		s.nextID++
		cc.ID = s.nextID
	}
	cc.CreatedAt = time.Now()
	s.rows[cc.TransactionID] = cc

	if !s.known[enrich.TransactionID] {
		return cc, false, nil
	}
	s.transfers[enrich.TransactionID] = enrich
	return cc, true, nil
}

func (s *memStore) GetCostComparison(_ context.Context, id string) (storage.CostComparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.rows[id]
	if !ok {
		return storage.CostComparison{}, storage.ErrNotFound
	}
	return cc, nil
}

type rollupSpy struct {
	mu    sync.Mutex
	calls []string
}

func (r *rollupSpy) RecomputeForTransfer(_ context.Context, bankID, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, bankID+"/"+txID)
	return nil
}

type notifySpy struct {
	mu       sync.Mutex
	failures []alerting.CaptureFailure
}

func (n *notifySpy) Notify(_ context.Context, f alerting.CaptureFailure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
	return nil
}

func defaults() config.CaptureConfig {
	return config.CaptureConfig{
		DefaultNetwork:    "native",
		DefaultSettlement: 30 * time.Second,
		DefaultType:       "interbank",
		DefaultStatus:     "pending",
	}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int {
	return &v
}

func TestCapture_Scenario(t *testing.T) {
	store := newMemStore("t1")
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop())

	res, err := p.Capture(context.Background(), Input{
		TransactionID:     "t1",
		BankID:            "b1",
		Amount:            amount("50000"),
		NetworkUsed:       "polygon",
		SettlementSeconds: intPtr(25),
	})
	require.NoError(t, err)

	assert.Equal(t, 50.0, res.NexoraFee)
	assert.Equal(t, 1290.0, res.SwiftEquivalent)
	assert.Equal(t, 1240.0, res.FeeSavings)
	assert.Equal(t, 71.99, res.TimeSavingsHours)
	assert.Equal(t, "polygon", res.NetworkUsed)
	assert.Equal(t, "interbank", res.TransferType)
	assert.Equal(t, "pending", res.Status)
	assert.True(t, res.TransferMatched)

	enriched := store.transfers["t1"]
	assert.Equal(t, "polygon", enriched.NetworkUsed)
	assert.Equal(t, int32(25), enriched.SettlementSeconds)
	assert.True(t, enriched.SwiftEquivalentFee.Equal(decimal.NewFromInt(1290)))

	stored := store.rows["t1"]
	assert.Equal(t, int32(259200), stored.SwiftSettlementSeconds)
}

func TestCapture_Defaults(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop())

	res, err := p.Capture(context.Background(), Input{TransactionID: "t2", BankID: "b1", Amount: amount("0")})
	require.NoError(t, err)

	assert.Equal(t, "native", res.NetworkUsed)
	assert.Equal(t, 30, res.SettlementSeconds)
	assert.Equal(t, 40.0, res.SwiftEquivalent)
	assert.Equal(t, 40.0, res.FeeSavings)
	assert.Equal(t, 71.99, res.TimeSavingsHours)
	assert.False(t, res.TransferMatched)
}

func TestCapture_IsIdempotentPerTransaction(t *testing.T) {
	store := newMemStore("t1")
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop())
	ctx := context.Background()

	_, err := p.Capture(ctx, Input{TransactionID: "t1", BankID: "b1", Amount: amount("50000")})
	require.NoError(t, err)
	res, err := p.Capture(ctx, Input{TransactionID: "t1", BankID: "b1", Amount: amount("100000")})
	require.NoError(t, err)

	assert.Len(t, store.rows, 1)
	assert.Equal(t, 2540.0, res.SwiftEquivalent)

	got, err := p.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.TransferAmount.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, int64(1), got.ID)
}

func TestCapture_Validation(t *testing.T) {
	p := NewPipeline(newMemStore(), costmodel.Default(), defaults(), zerolog.Nop())

	cases := []struct {
		name  string
		in    Input
		field string
	}{
		{"missing transaction", Input{BankID: "b1", Amount: amount("1")}, "transaction_id"},
		{"missing bank", Input{TransactionID: "t", Amount: amount("1")}, "bank_id"},
		{"missing amount", Input{TransactionID: "t", BankID: "b1"}, "amount"},
		{"negative settlement", Input{TransactionID: "t", BankID: "b1", Amount: amount("1"), SettlementSeconds: intPtr(-1)}, "settlement_time_seconds"},
		{"settlement beyond int32", Input{TransactionID: "t", BankID: "b1", Amount: amount("1"), SettlementSeconds: intPtr(3_000_000_000)}, "settlement_time_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Capture(context.Background(), tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestCapture_SettlementUpperBound(t *testing.T) {
	store := newMemStore("t1")
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop())

	_, err := p.Capture(context.Background(), Input{TransactionID: "t1", BankID: "b1", Amount: amount("10"), SettlementSeconds: intPtr(3_000_000_000)})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "must not exceed 2147483647")
	assert.Empty(t, store.rows)
	assert.Empty(t, store.transfers)

	res, err := p.Capture(context.Background(), Input{TransactionID: "t1", BankID: "b1", Amount: amount("10"), SettlementSeconds: intPtr(2147483647)})
	require.NoError(t, err)
	assert.Equal(t, int32(2147483647), store.rows["t1"].NexoraSettlementSeconds)
	assert.Equal(t, 2147483647, res.SettlementSeconds)
}

func TestCapture_StorageFailure(t *testing.T) {
	cause := errors.New("deadlock detected")
	store := newMemStore()
	store.err = cause
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop())

	_, err := p.Capture(context.Background(), Input{TransactionID: "t1", BankID: "b1", Amount: amount("10")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCaptureFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestCaptureAsync_TriggersRollup(t *testing.T) {
	store := newMemStore("t1")
	spy := &rollupSpy{}
	m := metrics.New(nil)
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop(), WithRollup(spy), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	p.CaptureAsync(ctx, Input{TransactionID: "t1", BankID: "b1", Amount: amount("100")})
	cancel()
	p.Wait()

	assert.Len(t, store.rows, 1)
	assert.Equal(t, []string{"b1/t1"}, spy.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapturesTotal.WithLabelValues("async", metrics.ResultOK)))
}

func TestCaptureAsync_FailureIsSwallowedAndAlerted(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	spy := &rollupSpy{}
	notifier := &notifySpy{}
	p := NewPipeline(store, costmodel.Default(), defaults(), zerolog.Nop(),
		WithRollup(spy), WithNotifier(notifier), WithAsyncTimeout(time.Second))

	p.CaptureAsync(context.Background(), Input{TransactionID: "t9", BankID: "b2", Amount: amount("75")})
	p.Wait()

	assert.Empty(t, spy.calls)
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, "t9", notifier.failures[0].TransactionID)
	assert.Equal(t, "b2", notifier.failures[0].BankID)
	assert.True(t, notifier.failures[0].Amount.Equal(decimal.NewFromInt(75)))
	assert.Contains(t, notifier.failures[0].Err, "db down")
}

func TestCaptureAsync_InvalidInputIsAlerted(t *testing.T) {
	notifier := &notifySpy{}
	p := NewPipeline(newMemStore(), costmodel.Default(), defaults(), zerolog.Nop(), WithNotifier(notifier))

	p.CaptureAsync(context.Background(), Input{TransactionID: "t1"})
	p.Wait()

	require.Len(t, notifier.failures, 1)
	assert.True(t, notifier.failures[0].Amount.IsZero())
}
