// Package alerting forwards capture failures to operators.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nexora-analytics/internal/config"
)

// CaptureFailure describes one analytics capture that did not persist.
type CaptureFailure struct {
	TransactionID string
	BankID        string
	Amount        decimal.Decimal
	Source        string
	Err           string
	OccurredAt    time.Time
}

// Notifier delivers capture failure notifications.
type Notifier interface {
	Notify(ctx context.Context, failure CaptureFailure) error
}

// New returns the notifier selected by cfg, or nil when alerting is off.
func New(cfg config.AlertingConfig, logger zerolog.Logger) Notifier {
	if !cfg.Enabled || !cfg.Telegram.Enabled {
		return nil
	}
	tg := NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, logger)
	return NewCooldown(tg, cfg.Cooldown)
}

// TelegramNotifier posts failures through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered failure.
func (n *TelegramNotifier) Notify(ctx context.Context, failure CaptureFailure) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(failure),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("transaction_id", failure.TransactionID).
		Str("bank_id", failure.BankID).
		Msg("capture failure alert sent")
	return nil
}

func renderMessage(f CaptureFailure) string {
	builder := strings.Builder{}
	builder.WriteString("[Nexora Analytics] capture failed\n")
	builder.WriteString(fmt.Sprintf("Transaction: %s\n", f.TransactionID))
	builder.WriteString(fmt.Sprintf("Bank: %s\n", f.BankID))
	builder.WriteString(fmt.Sprintf("Amount: %s\n", f.Amount.StringFixed(2)))
	if f.Source != "" {
		builder.WriteString(fmt.Sprintf("Source: %s\n", f.Source))
	}
	if !f.OccurredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", f.OccurredAt.UTC().Format(time.RFC3339)))
	}
	if f.Err != "" {
		builder.WriteString(fmt.Sprintf("Error: %s\n", f.Err))
	}
	return builder.String()
}

// Cooldown suppresses repeat notifications for the same transaction.
type Cooldown struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// NewCooldown wraps next. A non-positive window disables suppression.
func NewCooldown(next Notifier, window time.Duration) *Cooldown {
	return &Cooldown{
		next:   next,
		window: window,
		now:    time.Now,
		sent:   make(map[string]time.Time),
	}
}

// Notify forwards failure unless the transaction was notified within the window.
func (c *Cooldown) Notify(ctx context.Context, failure CaptureFailure) error {
	now := c.now()

	c.mu.Lock()
	if c.window > 0 {
		if last, ok := c.sent[failure.TransactionID]; ok && now.Sub(last) < c.window {
			c.mu.Unlock()
			return nil
		}
		c.prune(now)
	}
	c.sent[failure.TransactionID] = now
	c.mu.Unlock()

	return c.next.Notify(ctx, failure)
}

// prune drops expired entries; callers hold mu.
func (c *Cooldown) prune(now time.Time) {
	for id, last := range c.sent {
		if now.Sub(last) >= c.window {
			delete(c.sent, id)
		}
	}
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*Cooldown)(nil)
)
