// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/api"
	"github.com/JakeFAU/interpelli-crawler/internal/backend/gemini"
	"github.com/JakeFAU/interpelli-crawler/internal/clock/system"
	"github.com/JakeFAU/interpelli-crawler/internal/config"
	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/interpelli-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/interpelli-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/interpelli-crawler/internal/harvest"
	"github.com/JakeFAU/interpelli-crawler/internal/hash/sha256"
	"github.com/JakeFAU/interpelli-crawler/internal/headless/detector"
	"github.com/JakeFAU/interpelli-crawler/internal/id/uuid"
	ledgermem "github.com/JakeFAU/interpelli-crawler/internal/ledger/memory"
	ledgerredis "github.com/JakeFAU/interpelli-crawler/internal/ledger/redis"
	"github.com/JakeFAU/interpelli-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/interpelli-crawler/internal/progress"
	"github.com/JakeFAU/interpelli-crawler/internal/progress/sinks"
	"github.com/JakeFAU/interpelli-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/gcs"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/local"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/memory"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/postgres"
	"github.com/JakeFAU/interpelli-crawler/internal/telemetry"
	"github.com/JakeFAU/interpelli-crawler/internal/worker"
)

// NoticeStore is the record sink as used by the commands.
type NoticeStore interface {
	crawler.RecordSink
}

// RunHistory stores and lists run summaries.
type RunHistory interface {
	crawler.RunRecorder
}

// App holds the shared services: configuration, logger, stores and the
// optional integrations selected by configuration.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   crawler.Clock
	notices NoticeStore
	runs    RunHistory
	pool    *pgxpool.Pool
	console io.Writer
	backend extract.Backend
	closers []func() error
}

// Option customizes an App.
type Option func(*App)

// WithStores replaces the configured stores.
func WithStores(notices NoticeStore, runs RunHistory) Option {
	return func(a *App) {
		a.notices = notices
		a.runs = runs
	}
}

// WithBackend replaces the Gemini extraction backend.
func WithBackend(backend extract.Backend) Option {
	return func(a *App) { a.backend = backend }
}

// WithConsole sets where live harvest progress is printed (default stderr).
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// New wires stores and tracing from cfg. Without db.dsn notices are kept
// in memory for the lifetime of the process.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		clock:   system.New(),
		console: os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	if a.notices == nil {
		if err := a.openStores(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("db.dsn not set, notices are kept in memory only")
		a.notices = memory.NewNoticeStore(a.clock)
		a.runs = memory.NewRunStore()
		return nil
	}
	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	notices, err := postgres.NewNoticeStore(pool, a.cfg.DB.Table)
	if err != nil {
		return fmt.Errorf("build notice store: %w", err)
	}
	if err := notices.EnsureSchema(ctx); err != nil {
		return err
	}
	runs, err := postgres.NewRunStore(pool, "")
	if err != nil {
		return fmt.Errorf("build run store: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return err
	}
	a.notices = notices
	a.runs = runs
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Notices returns the record sink.
func (a *App) Notices() NoticeStore { return a.notices }

// Runs returns the run history.
func (a *App) Runs() RunHistory { return a.runs }

// Server builds the read-only HTTP API.
func (a *App) Server() *api.Server {
	opts := []api.Option{api.WithRuns(a.runs)}
	if a.pool != nil {
		opts = append(opts, api.WithReadiness(a.pool.Ping))
	}
	return api.NewServer(a.notices, a.logger.Named("api"), opts...)
}

// HarvestRequest selects what a harvest covers. Empty Regions falls back to
// harvest.regions, then to every configured region. Zero MaxPages uses
// harvest.max_pages.
type HarvestRequest struct {
	Regions  []string
	MaxPages int
	DryRun   bool
}

// Harvest builds a fresh pipeline, runs one harvest and tears the pipeline
// down again.
func (a *App) Harvest(ctx context.Context, req HarvestRequest) (harvest.Summary, error) {
	if a.backend == nil {
		if err := a.cfg.RequireHarvest(); err != nil {
			return harvest.Summary{}, err
		}
	}
	names := req.Regions
	if len(names) == 0 {
		names = a.cfg.Harvest.Regions
	}
	regions, err := a.cfg.ResolveRegions(names)
	if err != nil {
		return harvest.Summary{}, fmt.Errorf("%w: %w", harvest.ErrInvalidRequest, err)
	}
	maxPages := req.MaxPages
	if maxPages == 0 {
		maxPages = a.cfg.Harvest.MaxPages
	}

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return harvest.Summary{}, err
	}
	defer p.close(a.logger)

	return p.orchestrator.Run(ctx, harvest.Request{
		Regions:  regions,
		MaxPages: maxPages,
		DryRun:   req.DryRun,
	})
}

// pipeline is everything one harvest needs that must be released after it.
type pipeline struct {
	orchestrator *harvest.Orchestrator
	hub          *progress.Hub
	closers      []func() error
}

func (p *pipeline) close(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if p.hub != nil {
		if err := p.hub.Close(ctx); err != nil {
			logger.Warn("close progress hub", zap.Error(err))
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			logger.Warn("release harvest resource", zap.Error(err))
		}
	}
}

func (a *App) buildPipeline(ctx context.Context) (_ *pipeline, err error) {
	cfg := a.cfg
	logger := a.logger
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.close(logger)
		}
	}()

	hostPacer := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RequestsPerSecond, DefaultBurst: cfg.HTTP.Burst})
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Timeout:         cfg.HTTP.Timeout(),
		DownloadTimeout: cfg.HTTP.DownloadTimeout(),
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		PerDomainMax:    cfg.HTTP.PerDomainMax,
		ScratchDir:      cfg.Harvest.ScratchDir,
	}, hostPacer, logger.Named("fetcher"))
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	backend := a.backend
	if backend == nil {
		backend, err = gemini.New(ctx, cfg.Backend.APIKey, logger.Named("gemini"))
		if err != nil {
			return nil, err
		}
	}
	adapter, err := extract.New(backend, extract.Config{
		FastModel:         cfg.Backend.FastModel,
		DocumentModel:     cfg.Backend.DocumentModel,
		PollInterval:      cfg.Backend.PollInterval(),
		MaxProcessingWait: cfg.Backend.MaxProcessingWait(),
		CategoryLabels:    cfg.Harvest.CategoryLabels,
		CloudHosts:        crawler.NewHostMatcher(cfg.Harvest.CloudHosts),
		PortalHosts:       crawler.NewHostMatcher(cfg.Harvest.PortalHosts),
	}, ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Backend.RequestsPerSecond, DefaultBurst: 1}), logger.Named("extract"))
	if err != nil {
		return nil, fmt.Errorf("build extraction adapter: %w", err)
	}

	var workerOpts []worker.Option
	if cfg.Headless.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleTimeout:     time.Duration(cfg.Headless.SettleMillis) * time.Millisecond,
		}, hostPacer, logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("build headless fetcher: %w", err)
		}
		p.closers = append(p.closers, func() error { browser.Close(); return nil })
		workerOpts = append(workerOpts, worker.WithPortalFetcher(browser))
		if cfg.Headless.StaticFirst {
			workerOpts = append(workerOpts, worker.WithRenderDetector(detector.NewHeuristic(cfg.Headless.MinTextBytes)))
		}
	}
	archive, err := a.openArchive(ctx, p)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		workerOpts = append(workerOpts, worker.WithArchive(archive, sha256.New()))
	}
	units := worker.New(fetcher, fetcher, adapter, worker.Config{ArchivePrefix: cfg.Archive.Prefix}, logger.Named("worker"), workerOpts...)

	p.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewConsoleSink(a.console),
	)
	harvestOpts := []harvest.Option{
		harvest.WithRunRecorder(a.runs),
		harvest.WithEmitter(p.hub),
	}
	ledgerOpt, err := a.openLedger(ctx, p)
	if err != nil {
		return nil, err
	}
	if ledgerOpt != nil {
		harvestOpts = append(harvestOpts, ledgerOpt)
	}
	if cfg.PubSub.Enabled() {
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger.Named("pubsub"))
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, pub.Close)
		harvestOpts = append(harvestOpts, harvest.WithPublisher(pub))
	}

	p.orchestrator, err = harvest.New(units, a.notices, uuid.New(), a.clock, harvest.Config{
		DiscoveryConcurrency: cfg.Harvest.DiscoveryConcurrency,
		ArticleConcurrency:   cfg.Harvest.ArticleConcurrency,
		UnitTimeout:          cfg.Harvest.UnitTimeout(),
		SkipSeen:             cfg.Harvest.SkipSeen,
		Topic:                cfg.PubSub.TopicName,
		RunLogDir:            cfg.Logging.RunLogDir,
	}, logger.Named("harvest"), harvestOpts...)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	return p, nil
}

func (a *App) openArchive(ctx context.Context, p *pipeline) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return store, nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs archive: %w", err)
		}
		p.closers = append(p.closers, store.Close)
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) openLedger(ctx context.Context, p *pipeline) (harvest.Option, error) {
	switch a.cfg.Ledger.Provider {
	case "memory":
		return harvest.WithLedger(ledgermem.New()), nil
	case "redis":
		ledger, err := ledgerredis.Open(ctx, ledgerredis.Config{
			Addr:     a.cfg.Ledger.RedisAddr,
			Password: a.cfg.Ledger.RedisPassword,
			DB:       a.cfg.Ledger.RedisDB,
			TTL:      a.cfg.Ledger.TTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("open redis ledger: %w", err)
		}
		p.closers = append(p.closers, ledger.Close)
		return harvest.WithLedger(ledger), nil
	default:
		return nil, nil
	}
}

// Close releases the stores and flushes traces.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close app", zap.Error(err))
	}
}
