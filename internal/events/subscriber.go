// Package events feeds transfer-created messages from NATS into the
// capture pipeline.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"nexora-analytics/internal/capture"
	"nexora-analytics/internal/config"
	"nexora-analytics/internal/metrics"
)

// ErrMalformed is returned for messages that are not a transfer event.
var ErrMalformed = errors.New("malformed transfer event")

// Capturer accepts fire-and-forget captures.
type Capturer interface {
	CaptureAsync(ctx context.Context, in capture.Input)
}

// Subscriber consumes transfer-created events on a queue group.
type Subscriber struct {
	cfg      config.NATSConfig
	capturer Capturer
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	conn      *nats.Conn
	sub       *nats.Subscription
	closed    chan struct{}
	closeOnce sync.Once
}

// drainTimeout bounds how long Close waits for buffered messages.
const drainTimeout = 30 * time.Second

// NewSubscriber builds a subscriber; call Start to connect.
func NewSubscriber(cfg config.NATSConfig, capturer Capturer, m *metrics.Metrics, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		capturer: capturer,
		metrics:  m,
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Start connects and subscribes. Messages are handled until ctx is done or
// Close is called.
func (s *Subscriber) Start(ctx context.Context) error {
	closed := make(chan struct{})
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("nexora-analytics"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, func(msg *nats.Msg) {
		if err := s.Handle(ctx, msg.Data); err != nil {
			s.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping transfer event")
		}
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}

	s.conn = conn
	s.sub = sub
	s.closed = closed
	s.logger.Info().Str("url", s.cfg.URL).Str("subject", s.cfg.Subject).Str("queue", s.cfg.Queue).Msg("subscribed to transfer events")

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Handle decodes one message and hands it to the capture pipeline.
func (s *Subscriber) Handle(ctx context.Context, data []byte) error {
	in, err := Decode(data)
	if err != nil {
		s.metrics.EventResult(metrics.ResultInvalid)
		return err
	}
	s.metrics.EventResult(metrics.ResultOK)
	s.capturer.CaptureAsync(ctx, in)
	return nil
}

// Close drains the subscription and blocks until the connection is closed,
// so no message is handed to the capturer after it returns.
func (s *Subscriber) Close() {
	if s.conn == nil {
		return
	}
	s.closeOnce.Do(func() {
		if err := s.conn.Drain(); err != nil {
			s.logger.Debug().Err(err).Msg("nats drain failed")
			s.conn.Close()
		}
		select {
		case <-s.closed:
		case <-time.After(drainTimeout + time.Second):
			s.logger.Warn().Msg("nats drain did not finish in time")
			s.conn.Close()
		}
	})
}

// Decode parses a transfer event. Field validation is left to the pipeline.
func Decode(data []byte) (capture.Input, error) {
	var in capture.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return capture.Input{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.TransactionID == "" {
		return capture.Input{}, fmt.Errorf("%w: missing transaction_id", ErrMalformed)
	}
	return in, nil
}
