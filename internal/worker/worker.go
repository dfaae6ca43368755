// Package worker implements the two pipeline units: listing-page discovery
// and article processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/routing"
)

// PageFetcher retrieves HTML. found is false when the page does not exist.
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (body string, found bool, err error)
}

// DocumentFetcher downloads documents to local scratch files.
type DocumentFetcher interface {
	Download(ctx context.Context, url string, kind crawler.DocumentKind) (path string, found bool, err error)
	Discard(path string) error
}

// Extractor is the extraction capability used by the units.
type Extractor interface {
	FindArticleLinks(ctx context.Context, html, baseURL string) []string
	AnalyzeArticle(ctx context.Context, html, baseURL string) crawler.Analysis
	ExtractHTML(ctx context.Context, html string) []crawler.FieldSet
	ExtractFile(ctx context.Context, path string) []crawler.FieldSet
}

// Config controls Worker behavior.
type Config struct {
	// ArchivePrefix is prepended to archive object keys.
	ArchivePrefix string
}

// Worker runs pipeline units. It is safe for concurrent use.
type Worker struct {
	pages     PageFetcher
	portal    PageFetcher
	detector  RenderDetector
	documents DocumentFetcher
	extractor Extractor
	archive   crawler.BlobStore
	hasher    crawler.Hasher
	cfg       Config
	logger    *zap.Logger
}

// RenderDetector tells whether a statically fetched page needs rendering.
type RenderDetector interface {
	ShouldRender(body []byte) bool
}

// Option customizes a Worker.
type Option func(*Worker)

// WithPortalFetcher routes portal pages through a dedicated fetcher, usually a
// headless browser.
func WithPortalFetcher(f PageFetcher) Option {
	return func(w *Worker) {
		if f != nil {
			w.portal = f
		}
	}
}

// WithRenderDetector fetches portal pages statically first and only hands
// them to the portal fetcher when detector asks for rendering.
func WithRenderDetector(detector RenderDetector) Option {
	return func(w *Worker) { w.detector = detector }
}

// WithArchive copies every downloaded document to store before extraction.
func WithArchive(store crawler.BlobStore, hasher crawler.Hasher) Option {
	return func(w *Worker) {
		w.archive = store
		w.hasher = hasher
	}
}

// New constructs a Worker.
func New(
	pages PageFetcher,
	documents DocumentFetcher,
	extractor Extractor,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		pages:     pages,
		portal:    pages,
		documents: documents,
		extractor: extractor,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DiscoverPage fetches one listing page and turns its notice links into
// article tasks. A missing page yields NotFound and no error.
func (w *Worker) DiscoverPage(ctx context.Context, task crawler.PageTask) (crawler.PageResult, error) {
	result := crawler.PageResult{Task: task}
	html, found, err := w.pages.FetchHTML(ctx, task.URL)
	if err != nil {
		return result, fmt.Errorf("fetch listing page %s: %w", task.URL, err)
	}
	if !found {
		w.logger.Info("listing page not found",
			zap.String("region", task.Region),
			zap.Int("page", task.Page),
			zap.String("url", task.URL),
		)
		result.NotFound = true
		return result, nil
	}

	links := w.extractor.FindArticleLinks(ctx, html, task.URL)
	result.Articles = make([]crawler.ArticleTask, 0, len(links))
	for _, link := range links {
		result.Articles = append(result.Articles, crawler.ArticleTask{URL: link, Region: task.Region})
	}
	w.logger.Debug("listing page scanned",
		zap.String("region", task.Region),
		zap.Int("page", task.Page),
		zap.Int("articles", len(links)),
	)
	return result, nil
}

// ProcessArticle fetches and analyses one notice page, follows exactly one
// route and returns the region-tagged records.
func (w *Worker) ProcessArticle(ctx context.Context, task crawler.ArticleTask) ([]crawler.Record, error) {
	html, found, err := w.pages.FetchHTML(ctx, task.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch article %s: %w", task.URL, err)
	}
	if !found {
		w.logger.Info("article not found", zap.String("region", task.Region), zap.String("url", task.URL))
		return nil, nil
	}

	plan := routing.Decide(w.extractor.AnalyzeArticle(ctx, html, task.URL))
	logger := w.logger.With(
		zap.String("region", task.Region),
		zap.String("url", task.URL),
		zap.Stringer("path", plan.Path),
	)

	var records []crawler.Record
	switch plan.Path {
	case routing.PathDirect, routing.PathCloud:
		kind, _ := plan.DocumentKind()
		for _, docURL := range plan.URLs {
			records = append(records, w.processDocument(ctx, task, docURL, kind, logger)...)
		}
	case routing.PathPortal:
		for _, portalURL := range plan.URLs {
			records = append(records, w.processPortal(ctx, task, portalURL, logger)...)
		}
	case routing.PathInline:
		records = tag(plan.Inline, task.Region, task.URL)
	default:
		logger.Info("no document, portal or inline data found")
		return nil, nil
	}

	logger.Debug("article processed", zap.Int("records", len(records)))
	return records, nil
}

func (w *Worker) processDocument(
	ctx context.Context,
	task crawler.ArticleTask,
	docURL string,
	kind crawler.DocumentKind,
	logger *zap.Logger,
) []crawler.Record {
	path, found, err := w.documents.Download(ctx, docURL, kind)
	if err != nil {
		logger.Warn("document download failed", zap.String("document", docURL), zap.Error(err))
		return nil
	}
	if !found {
		logger.Info("document not found", zap.String("document", docURL))
		return nil
	}
	defer func() {
		if err := w.documents.Discard(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove scratch file failed", zap.String("path", path), zap.Error(err))
		}
	}()

	w.archiveDocument(ctx, task, docURL, path, logger)
	return tag(w.extractor.ExtractFile(ctx, path), task.Region, docURL)
}

func (w *Worker) processPortal(
	ctx context.Context,
	task crawler.ArticleTask,
	portalURL string,
	logger *zap.Logger,
) []crawler.Record {
	if w.detector != nil && w.portal != w.pages {
		html, found, err := w.pages.FetchHTML(ctx, portalURL)
		switch {
		case err != nil:
			logger.Debug("static portal fetch failed, rendering", zap.String("portal", portalURL), zap.Error(err))
		case !found:
			logger.Info("portal page not found", zap.String("portal", portalURL))
			return nil
		case !w.detector.ShouldRender([]byte(html)):
			return tag(w.extractor.ExtractHTML(ctx, html), task.Region, portalURL)
		}
	}

	html, found, err := w.portal.FetchHTML(ctx, portalURL)
	if err != nil {
		logger.Warn("portal fetch failed", zap.String("portal", portalURL), zap.Error(err))
		return nil
	}
	if !found {
		logger.Info("portal page not found", zap.String("portal", portalURL))
		return nil
	}
	return tag(w.extractor.ExtractHTML(ctx, html), task.Region, portalURL)
}

func (w *Worker) archiveDocument(ctx context.Context, task crawler.ArticleTask, docURL, path string, logger *zap.Logger) {
	if w.archive == nil || w.hasher == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("read document for archive failed", zap.String("path", path), zap.Error(err))
		return
	}
	key, err := w.archiveKey(task.Region, docURL)
	if err != nil {
		logger.Warn("archive key failed", zap.Error(err))
		return
	}
	uri, err := w.archive.PutObject(ctx, key, "application/pdf", data)
	if err != nil {
		logger.Warn("archive document failed", zap.String("key", key), zap.Error(err))
		return
	}
	logger.Debug("document archived", zap.String("uri", uri))
}

func (w *Worker) archiveKey(region, docURL string) (string, error) {
	digest, err := w.hasher.Hash([]byte(docURL))
	if err != nil {
		return "", fmt.Errorf("hash document url: %w", err)
	}
	regionKey := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(region), " ", "-"))
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.pdf", regionKey, digest), nil
	}
	return fmt.Sprintf("%s/%s/%s.pdf", prefix, regionKey, digest), nil
}

func tag(sets []crawler.FieldSet, region, sourceURL string) []crawler.Record {
	if len(sets) == 0 {
		return nil
	}
	records := make([]crawler.Record, 0, len(sets))
	for _, fs := range sets {
		records = append(records, fs.Record(region, sourceURL))
	}
	return records
}
