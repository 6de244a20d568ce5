// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexora"

// Capture outcomes.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Metrics groups every collector. A nil *Metrics is a no-op recorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	CapturesTotal *prometheus.CounterVec

	RollupRecomputes    *prometheus.CounterVec
	RollupSweepDuration prometheus.Histogram

	EventsConsumed *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "query_duration_seconds",
				Help:      "Aggregation query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"query"},
		),
		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "query_errors_total",
				Help:      "Total number of failed aggregation queries",
			},
			[]string{"query"},
		),

		CapturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "capture",
				Name:      "captures_total",
				Help:      "Total number of analytics captures by source and result",
			},
			[]string{"source", "result"}, // source: sync, async
		),

		RollupRecomputes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "recomputes_total",
				Help:      "Total number of daily aggregate recomputes",
			},
			[]string{"result"},
		),
		RollupSweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rollup",
				Name:      "sweep_duration_seconds",
				Help:      "Daily aggregate sweep duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),

		EventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "messages_consumed_total",
				Help:      "Total number of transfer events consumed",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveQuery records one aggregation query.
func (m *Metrics) ObserveQuery(query string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(query).Observe(elapsed.Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(query).Inc()
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CaptureResult counts one capture outcome.
func (m *Metrics) CaptureResult(source, result string) {
	if m == nil {
		return
	}
	m.CapturesTotal.WithLabelValues(source, result).Inc()
}

// RollupResult counts one recompute outcome.
func (m *Metrics) RollupResult(result string) {
	if m == nil {
		return
	}
	m.RollupRecomputes.WithLabelValues(result).Inc()
}

// ObserveSweep records a full sweep.
func (m *Metrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RollupSweepDuration.Observe(elapsed.Seconds())
}

// EventResult counts one consumed event.
func (m *Metrics) EventResult(result string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(result).Inc()
}
