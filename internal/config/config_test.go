package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nexora-analytics", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.InDelta(t, 25.0, cfg.Analytics.CostModel.WireFee, 1e-9)
	assert.InDelta(t, 15.0, cfg.Analytics.CostModel.CorrespondentFee, 1e-9)
	assert.InDelta(t, 0.025, cfg.Analytics.CostModel.FXMarginRate, 1e-9)
	assert.InDelta(t, 0.001, cfg.Analytics.CostModel.NativeFeeRate, 1e-9)
	assert.Equal(t, 72*time.Hour, cfg.Analytics.CostModel.ExternalSettlement)
	assert.Equal(t, 30*time.Second, cfg.Analytics.Capture.DefaultSettlement)
	assert.Equal(t, "native", cfg.Analytics.Capture.DefaultNetwork)
	assert.Equal(t, "interbank", cfg.Analytics.Capture.DefaultType)
	assert.Equal(t, "pending", cfg.Analytics.Capture.DefaultStatus)
	assert.Equal(t, "transfers.created", cfg.Events.NATS.Subject)
	assert.False(t, cfg.Events.NATS.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NEXORA_ANALYTICS_COST_MODEL_NATIVE_FEE_RATE", "0.002")
	t.Setenv("NEXORA_HTTP_ADDR", ":9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 0.002, cfg.Analytics.CostModel.NativeFeeRate, 1e-9)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexora.yaml")
	body := []byte("analytics:\n  cost_model:\n    wire_fee: 30\nrollup:\n  interval: 1h\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 30.0, cfg.Analytics.CostModel.WireFee, 1e-9)
	assert.Equal(t, time.Hour, cfg.Rollup.Interval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Analytics.CostModel.FXMarginRate = -0.1
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Alerting.Telegram.Enabled = true
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Events.NATS.Enabled = true
	bad.Events.NATS.URL = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Rollup.Lookback = time.Hour
	assert.Error(t, bad.Validate())
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	assert.Equal(t, 50, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 10, cfg.ResolveMaxPoints(10))
}
