// Package httpapi exposes the analytics REST endpoints.
package httpapi

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"nexora-analytics/internal/analytics"
	"nexora-analytics/internal/capture"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/period"
	"nexora-analytics/internal/rollup"
	"nexora-analytics/internal/storage"
)

// MetricsService serves the per-bank metric queries.
type MetricsService interface {
	KPIs(ctx context.Context, bankID, token string) (analytics.KPIs, error)
	VolumeTrends(ctx context.Context, bankID, token string) ([]analytics.TrendPoint, error)
	TransferTypeDistribution(ctx context.Context, bankID, token string) ([]analytics.TypeShare, error)
	NetworkPerformance(ctx context.Context, bankID, token string) ([]analytics.NetworkStats, error)
}

// DashboardService assembles the combined dashboard.
type DashboardService interface {
	Build(ctx context.Context, bankID, token string) (analytics.Dashboard, error)
}

// CaptureService records cost comparisons.
type CaptureService interface {
	Capture(ctx context.Context, in capture.Input) (capture.Result, error)
	CaptureAsync(ctx context.Context, in capture.Input)
	Get(ctx context.Context, transactionID string) (storage.CostComparison, error)
}

// RollupService reads and refreshes daily aggregates.
type RollupService interface {
	Daily(ctx context.Context, bankID, token string) (period.Range, []rollup.DailyPoint, error)
	RecomputeForTransfer(ctx context.Context, bankID, transactionID string) error
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Metrics   MetricsService
	Dashboard DashboardService
	Capture   CaptureService
	Rollup    RollupService
	Transfers storage.TransferStore
	Health    Pinger
	Prom      *metrics.Metrics
}

// Handler holds the endpoint implementations.
type Handler struct {
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewRouter builds the mux router with middleware installed.
func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	h := &Handler{
		deps:     deps,
		validate: validator.New(),
		logger:   logger.With().Str("component", "http").Logger(),
	}
	h.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	router := mux.NewRouter()
	router.Use(recoverer(h.logger), requestID, accessLog(h.logger, deps.Prom))

	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", deps.Prom.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analytics/capture", h.capture).Methods(http.MethodPost)
	api.HandleFunc("/analytics/{bankID}/kpis", h.kpis).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{bankID}/trends", h.trends).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{bankID}/distribution", h.distribution).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{bankID}/networks", h.networks).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{bankID}/dashboard", h.dashboard).Methods(http.MethodGet)
	api.HandleFunc("/analytics/{bankID}/daily", h.daily).Methods(http.MethodGet)
	api.HandleFunc("/captures/{transactionID}", h.getCapture).Methods(http.MethodGet)
	api.HandleFunc("/transfers", h.createTransfer).Methods(http.MethodPost)

	return router
}
