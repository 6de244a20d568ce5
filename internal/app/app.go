package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nexora-analytics/internal/alerting"
	"nexora-analytics/internal/analytics"
	"nexora-analytics/internal/capture"
	"nexora-analytics/internal/config"
	"nexora-analytics/internal/costmodel"
	"nexora-analytics/internal/events"
	"nexora-analytics/internal/httpapi"
	"nexora-analytics/internal/metrics"
	"nexora-analytics/internal/rollup"
	"nexora-analytics/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// services are the wired domain components sharing one store.
type services struct {
	store      *storage.Store
	model      costmodel.Model
	metrics    *metrics.Metrics
	aggregator *analytics.Aggregator
	dashboard  *analytics.Assembler
	rollup     *rollup.Service
	pipeline   *capture.Pipeline
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// wire opens the store and builds every service on top of it.
func (a *App) wire(ctx context.Context, reg *prometheus.Registry) (*services, func(), error) {
	model, err := costmodel.FromConfig(a.Config.Analytics.CostModel)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}

	m := metrics.New(reg)
	rollupSvc := rollup.New(store, model, a.Config.Rollup, m, a.Logger)
	aggregator := analytics.NewAggregator(store, model, m, a.Logger)
	pipeline := capture.NewPipeline(store, model, a.Config.Analytics.Capture, a.Logger,
		capture.WithMetrics(m),
		capture.WithNotifier(alerting.New(a.Config.Alerting, a.Logger)),
		capture.WithRollup(rollupSvc),
		capture.WithAsyncTimeout(a.Config.HTTP.CaptureTimeout),
	)

	return &services{
		store:      store,
		model:      model,
		metrics:    m,
		aggregator: aggregator,
		dashboard:  analytics.NewAssembler(aggregator),
		rollup:     rollupSvc,
		pipeline:   pipeline,
	}, closeStore, nil
}

// Serve runs the HTTP API, the rollup scheduler and the optional event
// subscriber until SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Database.AutoMigrate {
		if err := a.Migrate(MigrateUp); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, closeStore, err := a.wire(ctx, reg)
	if err != nil {
		return err
	}
	defer closeStore()

	router := httpapi.NewRouter(httpapi.Deps{
		Metrics:   svc.aggregator,
		Dashboard: svc.dashboard,
		Capture:   svc.pipeline,
		Rollup:    svc.rollup,
		Transfers: svc.store,
		Health:    svc.store,
		Prom:      svc.metrics,
	}, a.Logger)

	srv := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	return a.run(ctx, svc, srv)
}

// run starts the event subscriber, then serves until ctx is done. On shutdown
// the listener stops first, the subscriber drains, and in-flight captures
// finish last.
func (a *App) run(ctx context.Context, svc *services, srv *http.Server) error {
	var sub *events.Subscriber
	if a.Config.Events.NATS.Enabled {
		sub = events.NewSubscriber(a.Config.Events.NATS, svc.pipeline, svc.metrics, a.Logger)
		if err := sub.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.Config.Rollup.Enabled {
		g.Go(func() error {
			return svc.rollup.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("http server forced to shutdown")
		}
		if sub != nil {
			sub.Close()
		}
		svc.pipeline.Wait()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.HTTP.ShutdownTimeout > 0 {
		return a.Config.HTTP.ShutdownTimeout
	}
	return 15 * time.Second
}

// ExportOptions hold parameters for exporting volume trends.
type ExportOptions struct {
	BankID    string
	Period    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	BankID string
	Period string
}

// RollupOptions configure a one-off daily aggregate rebuild.
type RollupOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
