package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"nexora-analytics/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Rollup    RollupConfig    `mapstructure:"rollup"`
	Events    EventsConfig    `mapstructure:"events"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CaptureTimeout  time.Duration `mapstructure:"capture_timeout"`
}

// AnalyticsConfig groups the fee model and capture defaults.
type AnalyticsConfig struct {
	CostModel CostModelConfig `mapstructure:"cost_model"`
	Capture   CaptureConfig   `mapstructure:"capture"`
}

// CostModelConfig holds the SWIFT-equivalent and native fee constants.
type CostModelConfig struct {
	WireFee            float64       `mapstructure:"wire_fee"`
	CorrespondentFee   float64       `mapstructure:"correspondent_fee"`
	FXMarginRate       float64       `mapstructure:"fx_margin_rate"`
	NativeFeeRate      float64       `mapstructure:"native_fee_rate"`
	ExternalSettlement time.Duration `mapstructure:"external_settlement"`
}

// CaptureConfig holds defaults applied to optional capture fields.
type CaptureConfig struct {
	DefaultNetwork    string        `mapstructure:"default_network"`
	DefaultSettlement time.Duration `mapstructure:"default_settlement"`
	DefaultType       string        `mapstructure:"default_type"`
	DefaultStatus     string        `mapstructure:"default_status"`
}

// RollupConfig governs the daily aggregate sweep.
type RollupConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	Lookback        time.Duration `mapstructure:"lookback"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EventsConfig covers inbound transfer events.
type EventsConfig struct {
	NATS NATSConfig `mapstructure:"nats"`
}

// NATSConfig describes the transfer-created subscription.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

// AlertingConfig routes capture failure notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEXORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "nexora-analytics")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("http.capture_timeout", "10s")

	v.SetDefault("analytics.cost_model.wire_fee", 25.00)
	v.SetDefault("analytics.cost_model.correspondent_fee", 15.00)
	v.SetDefault("analytics.cost_model.fx_margin_rate", 0.025)
	v.SetDefault("analytics.cost_model.native_fee_rate", 0.001)
	v.SetDefault("analytics.cost_model.external_settlement", "72h")

	v.SetDefault("analytics.capture.default_network", "native")
	v.SetDefault("analytics.capture.default_settlement", "30s")
	v.SetDefault("analytics.capture.default_type", "interbank")
	v.SetDefault("analytics.capture.default_status", "pending")

	v.SetDefault("rollup.enabled", true)
	v.SetDefault("rollup.interval", "15m")
	v.SetDefault("rollup.lookback", "48h")
	v.SetDefault("rollup.align_to_bucket", true)
	v.SetDefault("rollup.advisory_lock_key", int64(0x6e65786f))
	v.SetDefault("rollup.startup_delay", "0s")

	v.SetDefault("events.nats.enabled", false)
	v.SetDefault("events.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.nats.subject", "transfers.created")
	v.SetDefault("events.nats.queue", "nexora-analytics")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 366)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	cm := c.Analytics.CostModel
	if cm.WireFee < 0 || cm.CorrespondentFee < 0 {
		return fmt.Errorf("analytics.cost_model fixed fees cannot be negative")
	}
	if cm.FXMarginRate < 0 || cm.NativeFeeRate < 0 {
		return fmt.Errorf("analytics.cost_model rates cannot be negative")
	}
	if cm.ExternalSettlement <= 0 {
		return fmt.Errorf("analytics.cost_model.external_settlement must be greater than zero")
	}
	if c.Analytics.Capture.DefaultSettlement < 0 {
		return fmt.Errorf("analytics.capture.default_settlement cannot be negative")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.CaptureTimeout <= 0 {
		return fmt.Errorf("http.capture_timeout must be greater than zero")
	}
	if c.Rollup.Enabled {
		if c.Rollup.Interval <= 0 {
			return fmt.Errorf("rollup.interval must be greater than zero")
		}
		if c.Rollup.Lookback < 24*time.Hour {
			return fmt.Errorf("rollup.lookback must cover at least one day")
		}
	}
	if c.Events.NATS.Enabled {
		if c.Events.NATS.URL == "" {
			return fmt.Errorf("events.nats.url is required when events.nats.enabled")
		}
		if c.Events.NATS.Subject == "" {
			return fmt.Errorf("events.nats.subject is required when events.nats.enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
