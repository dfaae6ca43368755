// Package harvest orchestrates a two-phase harvest: listing pages are
// scanned for notice links under one concurrency cap, the deduplicated
// articles are processed under another, and the resulting records are
// persisted sequentially once every unit has finished.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/dispatcher"
	"github.com/JakeFAU/interpelli-crawler/internal/logging"
	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
	"github.com/JakeFAU/interpelli-crawler/internal/progress"
)

const tracerName = "github.com/JakeFAU/interpelli-crawler/internal/harvest"

// ErrInvalidRequest marks a Run request rejected before any phase starts.
var ErrInvalidRequest = errors.New("invalid harvest request")

// Units runs the per-task work of each phase.
type Units interface {
	DiscoverPage(ctx context.Context, task crawler.PageTask) (crawler.PageResult, error)
	ProcessArticle(ctx context.Context, task crawler.ArticleTask) ([]crawler.Record, error)
}

// Config holds orchestration limits.
type Config struct {
	DiscoveryConcurrency int
	ArticleConcurrency   int
	UnitTimeout          time.Duration
	// SkipSeen drops articles the ledger already knows about.
	SkipSeen bool
	// Topic receives newly persisted records when a publisher is set.
	Topic string
	// RunLogDir, when set, receives one JSON log file per run.
	RunLogDir string
	// Observer receives in-flight counts per phase. Used by tests.
	Observer func(phase string, inFlight int64)
}

// Request describes one harvest.
type Request struct {
	Regions  []crawler.Region
	MaxPages int
	DryRun   bool
}

// Summary reports what a run did.
type Summary = crawler.RunSummary

// Orchestrator runs harvests. A single Orchestrator may run several harvests
// one after the other; each Run owns its own limiters.
type Orchestrator struct {
	units     Units
	sink      crawler.RecordSink
	ledger    crawler.ArticleLedger
	publisher crawler.Publisher
	history   crawler.RunRecorder
	ids       crawler.IDGenerator
	clock     crawler.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLedger enables seen-article tracking.
func WithLedger(ledger crawler.ArticleLedger) Option {
	return func(o *Orchestrator) { o.ledger = ledger }
}

// WithPublisher announces every newly persisted record.
func WithPublisher(publisher crawler.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = publisher }
}

// WithRunRecorder stores every run summary.
func WithRunRecorder(history crawler.RunRecorder) Option {
	return func(o *Orchestrator) { o.history = history }
}

// WithEmitter reports progress events.
func WithEmitter(emitter progress.Emitter) Option {
	return func(o *Orchestrator) {
		if emitter != nil {
			o.emitter = emitter
		}
	}
}

type nopEmitter struct{}

func (nopEmitter) Emit(progress.Event) {}

// New wires an Orchestrator.
func New(
	units Units,
	sink crawler.RecordSink,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if units == nil {
		return nil, fmt.Errorf("harvest units are required")
	}
	if sink == nil {
		return nil, fmt.Errorf("record sink is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if cfg.DiscoveryConcurrency < 1 || cfg.ArticleConcurrency < 1 {
		return nil, fmt.Errorf("concurrency caps must be positive, got %d/%d",
			cfg.DiscoveryConcurrency, cfg.ArticleConcurrency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		units:   units,
		sink:    sink,
		ids:     ids,
		clock:   clock,
		emitter: nopEmitter{},
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one harvest. It returns an error only when the request is
// unusable; unit, fetch, extraction and persistence failures are logged and
// reflected in the summary. Cancelling ctx stops new units from starting,
// lets running units finish and persists what they produced.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	if err := validateRequest(req); err != nil {
		return Summary{}, err
	}
	runID, err := o.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger, closeLog, err := logging.WithRunFile(o.logger, o.cfg.RunLogDir, runID)
	if err != nil {
		return Summary{}, fmt.Errorf("open run log: %w", err)
	}
	defer func() {
		if err := closeLog(); err != nil {
			o.logger.Warn("close run log failed", zap.Error(err))
		}
	}()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "harvest.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("harvest.run_id", runID),
		attribute.Int("harvest.regions", len(req.Regions)),
		attribute.Bool("harvest.dry_run", req.DryRun),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	r := &run{
		Orchestrator: o,
		id:           runID,
		req:          req,
		logger:       logger,
		start:        o.clock.Now(),
	}
	summary := r.execute(ctx)
	span.SetAttributes(
		attribute.Int("harvest.records_persisted", summary.RecordsPersisted),
		attribute.Int("harvest.failed_units", summary.FailedUnits),
	)
	if summary.Interrupted {
		span.SetStatus(codes.Error, "interrupted")
	}
	return summary, nil
}

func validateRequest(req Request) error {
	if len(req.Regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrInvalidRequest)
	}
	if req.MaxPages < 1 {
		return fmt.Errorf("%w: max pages must be at least 1, got %d", ErrInvalidRequest, req.MaxPages)
	}
	seen := make(map[string]struct{}, len(req.Regions))
	for _, region := range req.Regions {
		if strings.TrimSpace(region.Name) == "" || strings.TrimSpace(region.URL) == "" {
			return fmt.Errorf("%w: region needs a name and a url: %+v", ErrInvalidRequest, region)
		}
		if _, dup := seen[region.Name]; dup {
			return fmt.Errorf("%w: duplicate region %q", ErrInvalidRequest, region.Name)
		}
		seen[region.Name] = struct{}{}
	}
	return nil
}

// run carries the state of one Run call.
type run struct {
	*Orchestrator
	id      string
	req     Request
	logger  *zap.Logger
	start   time.Time
	summary Summary
}

func (r *run) execute(ctx context.Context) Summary {
	r.summary = Summary{
		RunID:     r.id,
		StartedAt: r.start,
		Regions:   len(r.req.Regions),
		DryRun:    r.req.DryRun,
	}
	r.logger.Info("harvest started",
		zap.Int("regions", len(r.req.Regions)),
		zap.Int("max_pages", r.req.MaxPages),
		zap.Bool("dry_run", r.req.DryRun),
	)
	r.emit(progress.Event{Stage: progress.StageRunStart})

	articles := r.discover(ctx)

	var records []crawler.Record
	if ctx.Err() != nil {
		r.logger.Warn("harvest cancelled after discovery, article phase skipped")
		r.summary.UnitsSkipped += len(articles)
	} else {
		records = r.processArticles(ctx, articles)
	}
	r.summary.Interrupted = ctx.Err() != nil

	detached := context.WithoutCancel(ctx)
	r.persist(detached, records)

	r.summary.Duration = r.clock.Now().Sub(r.start)
	status := r.summary.Status()
	metrics.ObserveRun(status)
	if r.history != nil {
		if err := r.history.RecordRun(detached, r.summary); err != nil {
			r.logger.Warn("record run history failed", zap.Error(err))
		}
	}
	r.emit(progress.Event{Stage: progress.StageRunDone, Records: r.summary.RecordsPersisted, Dur: r.summary.Duration})
	r.logger.Info("harvest finished",
		zap.String("status", status),
		zap.Int("links_discovered", r.summary.LinksDiscovered),
		zap.Int("articles_processed", r.summary.ArticlesProcessed),
		zap.Int("articles_seen", r.summary.ArticlesSeen),
		zap.Int("failed_units", r.summary.FailedUnits),
		zap.Int("records_extracted", r.summary.RecordsExtracted),
		zap.Int("records_persisted", r.summary.RecordsPersisted),
		zap.Int("duplicates", r.summary.Duplicates),
		zap.Duration("duration", r.summary.Duration),
	)
	return r.summary
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}

func (r *run) limiter(phase string, capacity int) (*dispatcher.Limiter, error) {
	var observer func(int64)
	if r.cfg.Observer != nil {
		observer = func(n int64) { r.cfg.Observer(phase, n) }
	}
	limiter, err := dispatcher.NewLimiter(dispatcher.LimiterConfig{
		Phase:       phase,
		Capacity:    capacity,
		UnitTimeout: r.cfg.UnitTimeout,
		Observer:    observer,
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("build %s limiter: %w", phase, err)
	}
	return limiter, nil
}

// phaseTracker emits unit completion events with running totals.
type phaseTracker struct {
	r       *run
	phase   string
	total   int
	done    atomic.Int64
	limiter *dispatcher.Limiter
	started time.Time
}

func (r *run) startPhase(phase string, total int, limiter *dispatcher.Limiter) *phaseTracker {
	r.logger.Info("phase started", zap.String("phase", phase), zap.Int("units", total), zap.Int("cap", limiter.Capacity()))
	r.emit(progress.Event{Stage: progress.StagePhaseStart, Phase: phase, Total: total})
	return &phaseTracker{r: r, phase: phase, total: total, limiter: limiter, started: r.clock.Now()}
}

func (p *phaseTracker) unitDone(region, url string, records int, err error) {
	stage := progress.StageUnitDone
	note := ""
	if err != nil {
		stage = progress.StageUnitFailed
		note = err.Error()
	}
	p.r.emit(progress.Event{
		Stage:   stage,
		Phase:   p.phase,
		Region:  region,
		URL:     url,
		Done:    int(p.done.Add(1)),
		Total:   p.total,
		Active:  p.limiter.InFlight() - 1,
		Records: records,
		Note:    note,
	})
}

func (p *phaseTracker) finish() {
	dur := p.r.clock.Now().Sub(p.started)
	p.r.logger.Info("phase finished",
		zap.String("phase", p.phase),
		zap.Int64("completed", p.done.Load()),
		zap.Int64("peak_in_flight", p.limiter.Peak()),
		zap.Duration("duration", dur),
	)
	p.r.emit(progress.Event{Stage: progress.StagePhaseDone, Phase: p.phase, Done: int(p.done.Load()), Total: p.total, Dur: dur})
}
