// Package app builds the service's dependency graph and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/api"
	"github.com/JakeFAU/scrape-queue/internal/browser"
	cachememory "github.com/JakeFAU/scrape-queue/internal/cache/memory"
	"github.com/JakeFAU/scrape-queue/internal/clock/system"
	"github.com/JakeFAU/scrape-queue/internal/config"
	"github.com/JakeFAU/scrape-queue/internal/executor"
	"github.com/JakeFAU/scrape-queue/internal/gc"
	"github.com/JakeFAU/scrape-queue/internal/hash/sha256"
	"github.com/JakeFAU/scrape-queue/internal/id/uuid"
	"github.com/JakeFAU/scrape-queue/internal/logging"
	"github.com/JakeFAU/scrape-queue/internal/lookup"
	"github.com/JakeFAU/scrape-queue/internal/metrics"
	"github.com/JakeFAU/scrape-queue/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-queue/internal/progress"
	progresssinks "github.com/JakeFAU/scrape-queue/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/scrape-queue/internal/publisher/pubsub"
	"github.com/JakeFAU/scrape-queue/internal/scheduler"
	gcsstorage "github.com/JakeFAU/scrape-queue/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scrape-queue/internal/storage/local"
	memorystorage "github.com/JakeFAU/scrape-queue/internal/storage/memory"
	pgstore "github.com/JakeFAU/scrape-queue/internal/storage/postgres"
	"github.com/JakeFAU/scrape-queue/internal/telemetry"
	"github.com/JakeFAU/scrape-queue/internal/upstream"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	jobs      *memorystorage.JobStore
	cache     *cachememory.Cache
	pool      *browser.Pool
	executor  *executor.Headless
	scheduler *scheduler.Scheduler
	collector *gc.Collector
	prober    *upstream.Prober
	apiServer *api.Server

	progressHub    *progress.Hub
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	storage        *storage.Client
	outcomes       *pgstore.OutcomeStore
	tracerProvider *sdktrace.TracerProvider

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. Nothing is launched until
// the first lookup needs the browser.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}
	defer func() {
		if err != nil {
			_ = app.Close(ctx)
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("concurrency", cfg.Scheduler.Concurrency),
		zap.Duration("execution_timeout", cfg.Scheduler.ExecutionTimeout),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if cfg.Tracing.Enabled {
		app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName:    "scrapequeue",
			ServiceVersion: Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
	}

	app.jobs = memorystorage.NewJobStore(cfg.Jobs.TTL)
	var cache lookup.ResultCache
	if cfg.Cache.Enabled {
		app.cache = cachememory.New(cfg.Cache.TTL, app.clock)
		cache = app.cache
	} else {
		logger.Info("result cache disabled")
	}

	if err = app.setupExecutor(); err != nil {
		return nil, err
	}

	emitter, err := app.setupProgress(ctx)
	if err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(scheduler.Config{
		Concurrency:      cfg.Scheduler.Concurrency,
		ExecutionTimeout: cfg.Scheduler.ExecutionTimeout,
	}, scheduler.Deps{
		Store:    app.jobs,
		Cache:    cache,
		Executor: app.executor,
		IDs:      uuid.New(),
		Clock:    app.clock,
		Events:   emitter,
		Logger:   logger.Named("scheduler"),
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	targets := []gc.Target{{Name: "jobs", Sweeper: app.jobs}}
	if app.cache != nil {
		targets = append(targets, gc.Target{Name: "cache", Sweeper: app.cache})
	}
	app.collector = gc.New(cfg.GC.Interval, app.clock, logger.Named("gc"), targets...)

	deps := api.Deps{
		Lookups:  app.scheduler,
		Jobs:     app.jobs,
		JobCount: app.jobs,
		Browser:  app.pool,
	}
	if app.cache != nil {
		deps.CacheSize = app.cache
	}
	if cfg.Upstream.ProbeEnabled {
		app.prober = upstream.New(upstream.Config{
			URL:       cfg.ProbeURL(),
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.Upstream.ProbeTimeout,
		}, logger.Named("upstream"))
		deps.Readiness = app.prober
		logger.Info("upstream probe enabled", zap.String("url", cfg.ProbeURL()))
	}
	app.apiServer = api.NewServer(deps, cfg, logger.Named("api"))

	return app, nil
}

func (a *App) setupExecutor() error {
	a.pool = browser.NewPool(browser.NewChromedpLauncher(browser.LaunchConfig{
		ExecPath:      a.cfg.Browser.ExecPath,
		Headless:      a.cfg.Browser.Headless,
		NoSandbox:     a.cfg.Browser.NoSandbox,
		UserAgent:     a.cfg.Browser.UserAgent,
		WarmupTimeout: a.cfg.Browser.WarmupTimeout,
	}), nil, a.logger.Named("browser"))

	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.RateLimit.RPS, Burst: a.cfg.RateLimit.Burst})
	exec, err := executor.New(a.cfg.ExecutorSettings(), a.pool, limiter, a.clock, a.logger.Named("executor"))
	if err != nil {
		return fmt.Errorf("executor init failed: %w", err)
	}
	a.executor = exec
	a.logger.Info("headless executor configured",
		zap.String("target_url", a.cfg.Executor.TargetURL),
		zap.Int("tabs", len(a.cfg.Executor.Tabs)),
		zap.Float64("rps", a.cfg.RateLimit.RPS),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (lookup.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory archive")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no DSN configured, outcome history disabled")
		return nil
	}
	var err error
	a.outcomes, err = pgstore.NewOutcomeStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("outcome store init failed: %w", err)
	}
	if err := a.outcomes.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("outcome schema init failed: %w", err)
	}
	a.logger.Info("outcome store initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (lookup.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, notifications disabled")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubTopic = a.pubsubClient.Topic(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubTopic), nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	var sinkList []progress.Sink
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		sinkList = append(sinkList, progresssinks.NewArchiveSink(
			blobs, sha256.New(), a.cfg.Storage.Prefix, a.logger.Named("progress_archive")))
	}

	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if a.outcomes != nil {
		sinkList = append(sinkList, progresssinks.NewHistorySink(a.outcomes))
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		sinkList = append(sinkList, progresssinks.NewNotifySink(
			publisher, a.cfg.PubSub.TopicName, a.logger.Named("progress_notify")))
	}

	if len(sinkList) == 0 {
		a.logger.Info("no progress sinks configured")
		return progress.Nop{}, nil
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

// Handler exposes the HTTP handler (primarily for tests).
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP and sweeps expired state until ctx is canceled or a
// termination signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.collector.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// LookupOnce runs one execution synchronously through the shared pool and
// executor, bypassing the scheduler.
func (a *App) LookupOnce(ctx context.Context, raw string) (lookup.Result, error) {
	key, err := lookup.NormalizeKey(raw, a.cfg.Request.KeyLength)
	if err != nil {
		return lookup.Result{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Scheduler.ExecutionTimeout)
	defer cancel()
	return a.executor.Execute(ctx, key)
}

// Close drains the scheduler and releases every resource. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.scheduler != nil {
			if err := a.scheduler.Close(ctx); err != nil {
				a.logger.Warn("scheduler drain incomplete", zap.Error(err))
				errs = append(errs, err)
			}
		}
		if a.collector != nil {
			a.collector.Stop()
		}
		if a.progressHub != nil {
			if err := a.progressHub.Close(ctx); err != nil {
				a.logger.Warn("progress hub close failed", zap.Error(err))
			}
		}
		if a.pool != nil {
			if err := a.pool.Shutdown(ctx); err != nil {
				a.logger.Warn("browser pool shutdown failed", zap.Error(err))
			}
		}
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.outcomes != nil {
		a.outcomes.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync on stderr-backed loggers fails on some platforms; nothing to do about it.
	_ = a.logger.Sync()
}
