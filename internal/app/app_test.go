package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexora-analytics/internal/analytics"
	"nexora-analytics/internal/capture"
	"nexora-analytics/internal/config"
	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/period"
)

func trend(days int) []analytics.TrendPoint {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points := make([]analytics.TrendPoint, days)
	for i := range points {
		points[i] = analytics.TrendPoint{
			Date:              start.AddDate(0, 0, i).Format(time.DateOnly),
			TransferCount:     int64(i + 1),
			Volume:            float64(1000 * (i + 1)),
			Fees:              float64(i + 1),
			SuccessRate:       100,
			AvgSettlementTime: 25,
		}
	}
	return points
}

func TestDownsampleTrend(t *testing.T) {
	points := trend(10)

	assert.Len(t, downsampleTrend(points, 0), 10)
	assert.Len(t, downsampleTrend(points, 20), 10)

	one := downsampleTrend(points, 1)
	require.Len(t, one, 1)
	assert.Equal(t, points[9].Date, one[0].Date)

	three := downsampleTrend(points, 3)
	require.Len(t, three, 3)
	assert.Equal(t, points[0].Date, three[0].Date)
	assert.Equal(t, points[9].Date, three[2].Date)
}

func TestWriteTrendCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trend.csv")
	require.NoError(t, writeTrendCSV(path, trend(2)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"date", "transfer_count", "volume", "fees", "success_rate", "avg_settlement_time"}, records[0])
	assert.Equal(t, []string{"2024-03-02", "2", "2000.00", "2.00", "100.00", "25.00"}, records[2])
}

func TestWriteTrendPNG(t *testing.T) {
	dir := t.TempDir()

	err := writeTrendPNG(filepath.Join(dir, "single.png"), "bank-1", trend(1))
	require.Error(t, err)

	path := filepath.Join(dir, "trend.png")
	require.NoError(t, writeTrendPNG(path, "bank-1", trend(5)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	dash := analytics.Dashboard{
		Period: period.Range{
			Token: "30d",
			Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		KPIs: analytics.KPIs{
			Period:            "30d",
			TotalTransfers:    2,
			TotalVolume:       150000,
			TotalFees:         150,
			SuccessRate:       50,
			TotalCostSavings:  3620,
			SwiftFeeTotal:     3770,
			SavingsPercentage: 96.02,
		},
		NetworkPerformance: []analytics.NetworkStats{
			{Network: "native\nline", TransferCount: 2, Volume: 150000},
		},
		TransferTypes: []analytics.TypeShare{
			{TransferType: "interbank", Count: 2, Volume: 150000, AvgAmount: 75000, Percentage: 100},
		},
	}

	renderDashboard(&buf, "bank-1", dash)
	out := buf.String()

	assert.Contains(t, out, "bank-1")
	assert.Contains(t, out, "2024-02-01 to 2024-03-02")
	assert.Contains(t, out, "3620.00 (96.02%)")
	assert.Contains(t, out, "native line")
	assert.Contains(t, out, "interbank")
}

func TestRenderDashboardEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderDashboard(&buf, "bank-1", analytics.Dashboard{KPIs: analytics.KPIs{Period: "7d"}})
	assert.Contains(t, buf.String(), "no transfers in period")
}

func TestCommandsRequireDSN(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	a.Out = &bytes.Buffer{}

	require.Error(t, a.Migrate(MigrateUp))
	require.Error(t, a.Show(context.Background(), ShowOptions{BankID: "bank-1", Period: "30d"}))
	require.Error(t, a.Rollup(context.Background(), RollupOptions{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}))
}

func TestExportNeedsOutput(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	err := a.Export(context.Background(), ExportOptions{BankID: "bank-1"})
	require.Error(t, err)
}

func TestTestAlertDisabled(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	err := a.TestAlert(context.Background(), "tx", "bank", decimal.NewFromInt(100))
	require.Error(t, err)
}

func runServices() *services {
	return &services{
		metrics:  metrics.New(nil),
		pipeline: capture.NewPipeline(nil, costmodel.Default(), config.CaptureConfig{}, zerolog.Nop()),
	}
}

func runAsync(ctx context.Context, a *App) <-chan error {
	done := make(chan error, 1)
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	go func() { done <- a.run(ctx, runServices(), srv) }()
	return done
}

func TestRunFailsWhenEventsUnreachable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Events.NATS = config.NATSConfig{
		Enabled: true,
		URL:     "nats://127.0.0.1:1",
		Subject: "transfers.created",
		Queue:   "nexora-analytics",
	}
	a := NewApp(cfg, zerolog.Nop())

	select {
	case err := <-runAsync(context.Background(), a):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connect nats")
	case <-time.After(15 * time.Second):
		t.Fatal("run did not return after the subscriber failed to start")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, a)

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
