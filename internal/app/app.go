// Package app builds the crawler's dependency graph from configuration and
// owns the lifetime of everything it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/api"
	"github.com/JakeFAU/journal-crawler/internal/clock/system"
	"github.com/JakeFAU/journal-crawler/internal/config"
	"github.com/JakeFAU/journal-crawler/internal/hash/sha256"
	"github.com/JakeFAU/journal-crawler/internal/id/uuid"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/metrics"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
	"github.com/JakeFAU/journal-crawler/internal/progress"
	"github.com/JakeFAU/journal-crawler/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Options carries what cannot come from config.Config.
type Options struct {
	// ConfigPath is re-read by credential rotators; empty serves the
	// credentials of the loaded config.
	ConfigPath string
	Logger     *zap.Logger
	// Registerer receives the progress metrics. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     journal.Store
	hub       *progress.Hub
	runner    *pipeline.Runner
	apiServer *api.Server

	// closers run in reverse order on Close.
	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New wires the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll(context.Background())
		}
	}()
	metrics.Init()

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose("tracing", shutdownTracing)

	if a.store, err = a.buildStore(ctx); err != nil {
		return nil, err
	}
	if a.hub, err = a.buildHub(ctx, opts.Registerer); err != nil {
		return nil, err
	}
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	ranker, err := a.buildRanker(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := a.buildSources(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	collector := pipeline.NewCollector(pipeline.CollectorDeps{
		Store:   a.store,
		Source:  clients.authoritative,
		Archive: archive,
		Hasher:  sha256.New(),
		Ranker:  ranker,
		IDs:     ids,
		Clock:   clock,
		Events:  a.hub,
		Logger:  logger,
	})
	fetcher := pipeline.NewFetcher(pipeline.FetcherDeps{
		Store:     a.store,
		Enrichers: clients.enrichers,
		Ranker:    ranker,
		Clock:     clock,
		Events:    a.hub,
		Logger:    logger,
	})
	a.runner = pipeline.NewRunner(pipeline.RunnerDeps{
		Store:     a.store,
		Collector: collector,
		Fetcher:   fetcher,
		IDs:       ids,
		Clock:     clock,
		Events:    a.hub,
		Logger:    logger,
	}, pipeline.RunnerConfig{
		Concurrency:   cfg.Crawler.Concurrency,
		Serial:        cfg.Crawler.Serial,
		Warmup:        cfg.Crawler.Warmup,
		PollInterval:  cfg.Crawler.PollInterval,
		MaxPages:      cfg.Crawler.MaxPages,
		StatsInterval: cfg.Crawler.StatsInterval,
		BatchSize:     cfg.Crawler.PendingBatchSize,
	})
	a.apiServer = api.NewServer(a.store, a.runner, cfg, logger)

	logger.Info("application created",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("enrichers", len(clients.enrichers)),
		zap.Bool("rankings", ranker != nil),
		zap.Bool("archive", archive != nil),
	)
	return a, nil
}

// Store returns the persistence backend.
func (a *App) Store() journal.Store { return a.store }

// Runner returns the run orchestrator.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Serve runs the HTTP server until ctx is canceled, then stops any active run
// and shuts the server down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if id, ok := a.runner.Active(); ok {
		if err := a.runner.Stop(shutdownCtx, id); err != nil {
			a.logger.Warn("stop active run failed", zap.String("run_id", id), zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.runner.Wait(shutdownCtx); err != nil {
		a.logger.Warn("active run did not drain", zap.Error(err))
	}
	return serveErr
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	err := a.closeAll(ctx)
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
