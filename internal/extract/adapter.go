package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
	"github.com/JakeFAU/interpelli-crawler/internal/policy/ratelimit"
)

const (
	pdfMIMEType      = "application/pdf"
	backendPacingKey = "extraction-backend"
	maxLoggedPayload = 2048
)

var (
	errProcessingFailed  = errors.New("uploaded file entered FAILED state")
	errProcessingTimeout = errors.New("uploaded file still processing")
)

// Config controls model selection, upload polling and link classification.
type Config struct {
	// FastModel handles HTML; DocumentModel handles uploaded files.
	FastModel         string
	DocumentModel     string
	PollInterval      time.Duration
	MaxProcessingWait time.Duration
	CategoryLabels    []string
	CloudHosts        *crawler.HostMatcher
	PortalHosts       *crawler.HostMatcher
}

// Adapter wraps a Backend with prompt construction, lenient decoding and
// failure containment.
type Adapter struct {
	backend Backend
	cfg     Config
	pacer   *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds an Adapter.
func New(backend Backend, cfg Config, pacer *ratelimit.Limiter, logger *zap.Logger) (*Adapter, error) {
	if backend == nil {
		return nil, fmt.Errorf("extraction backend is required")
	}
	if cfg.FastModel == "" || cfg.DocumentModel == "" {
		return nil, fmt.Errorf("fast and document models are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxProcessingWait <= 0 {
		cfg.MaxProcessingWait = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, cfg: cfg, pacer: pacer, logger: logger}, nil
}

// FindArticleLinks returns the absolute URLs of the notice articles listed on
// a listing page. Anchors whose text equals a category label are excluded.
func (a *Adapter) FindArticleLinks(ctx context.Context, html, baseURL string) []string {
	const op = "find_article_links"
	text, ok := a.generate(ctx, op, a.cfg.FastModel, articleLinksPrompt(baseURL, a.cfg.CategoryLabels), html)
	if !ok {
		return nil
	}
	raw, ok := a.payload(op, text)
	if !ok {
		return nil
	}
	links, err := decodeLinks(raw)
	if err != nil {
		a.malformed(op, text, err)
		return nil
	}
	metrics.ObserveBackendCall(op, "ok")
	return normalizeLinks(baseURL, links, categoryLinks(html, baseURL, a.cfg.CategoryLabels))
}

// AnalyzeArticle decides how a notice page should be handled. Links are
// reclassified by host; inline data is only kept when no link was found.
func (a *Adapter) AnalyzeArticle(ctx context.Context, html, baseURL string) crawler.Analysis {
	const op = "analyze_article"
	text, ok := a.generate(ctx, op, a.cfg.FastModel, analyzeArticlePrompt(baseURL), html)
	if !ok {
		return crawler.Analysis{}
	}
	raw, ok := a.payload(op, text)
	if !ok {
		return crawler.Analysis{}
	}
	var decoded analysisPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		a.malformed(op, text, err)
		return crawler.Analysis{}
	}

	all := make([]string, 0, len(decoded.FileLinks)+len(decoded.DriveLinks)+len(decoded.PortalLinks))
	all = append(all, decoded.FileLinks...)
	all = append(all, decoded.DriveLinks...)
	all = append(all, decoded.PortalLinks...)
	analysis := a.classify(normalizeLinks(baseURL, all, nil))
	if analysis.HasLinks() {
		metrics.ObserveBackendCall(op, "ok")
		return analysis
	}

	inline, err := decodeFieldSets(decoded.Extracted)
	if err != nil {
		a.malformed(op, text, err)
		return crawler.Analysis{}
	}
	analysis.Inline = inline
	metrics.ObserveBackendCall(op, "ok")
	return analysis
}

func (a *Adapter) classify(links []string) crawler.Analysis {
	var out crawler.Analysis
	for _, link := range links {
		switch {
		case a.cfg.CloudHosts.MatchURL(link):
			out.Cloud = append(out.Cloud, link)
		case a.cfg.PortalHosts.MatchURL(link):
			out.Portal = append(out.Portal, link)
		default:
			out.Direct = append(out.Direct, link)
		}
	}
	return out
}

// ExtractHTML extracts field sets from page text.
func (a *Adapter) ExtractHTML(ctx context.Context, html string) []crawler.FieldSet {
	const op = "extract_html"
	text, ok := a.generate(ctx, op, a.cfg.FastModel, extractFieldsPrompt(), html)
	if !ok {
		return nil
	}
	return a.fieldSets(op, text)
}

// ExtractFile uploads a document, waits for the backend to finish preparing
// it and extracts its field sets. The upload is deleted afterwards.
func (a *Adapter) ExtractFile(ctx context.Context, path string) []crawler.FieldSet {
	const op = "extract_file"
	if err := a.pacer.WaitKey(ctx, backendPacingKey); err != nil {
		a.logger.Warn("backend pacing interrupted", zap.String("op", op), zap.Error(err))
		return nil
	}
	file, err := a.backend.Upload(ctx, path, pdfMIMEType)
	if err != nil {
		metrics.ObserveBackendCall(op, "error")
		a.logger.Warn("document upload failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer a.deleteUpload(ctx, file.Name)

	file, err = a.waitActive(ctx, file)
	if err != nil {
		metrics.ObserveBackendCall(op, "failed")
		a.logger.Error("document processing failed",
			zap.String("path", path),
			zap.String("file", file.Name),
			zap.Error(err),
		)
		return nil
	}

	if err := a.pacer.WaitKey(ctx, backendPacingKey); err != nil {
		a.logger.Warn("backend pacing interrupted", zap.String("op", op), zap.Error(err))
		return nil
	}
	text, err := a.backend.GenerateWithFile(ctx, a.cfg.DocumentModel, extractFieldsPrompt(), file)
	if err != nil {
		metrics.ObserveBackendCall(op, "error")
		a.logger.Warn("document extraction failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	return a.fieldSets(op, text)
}

func (a *Adapter) waitActive(ctx context.Context, file File) (File, error) {
	deadline := time.Now().Add(a.cfg.MaxProcessingWait)
	for file.State == FileProcessing {
		if time.Now().After(deadline) {
			return file, fmt.Errorf("%w after %s", errProcessingTimeout, a.cfg.MaxProcessingWait)
		}
		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return file, fmt.Errorf("wait for processing: %w", ctx.Err())
		case <-timer.C:
		}
		next, err := a.backend.File(ctx, file.Name)
		if err != nil {
			return file, fmt.Errorf("poll file state: %w", err)
		}
		file = next
	}
	if file.State == FileFailed {
		return file, errProcessingFailed
	}
	return file, nil
}

func (a *Adapter) deleteUpload(ctx context.Context, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.backend.Delete(ctx, name); err != nil {
		a.logger.Debug("uploaded file cleanup failed", zap.String("file", name), zap.Error(err))
	}
}

func (a *Adapter) generate(ctx context.Context, op, model, prompt, content string) (string, bool) {
	if err := a.pacer.WaitKey(ctx, backendPacingKey); err != nil {
		a.logger.Warn("backend pacing interrupted", zap.String("op", op), zap.Error(err))
		return "", false
	}
	text, err := a.backend.Generate(ctx, model, prompt, content)
	if err != nil {
		metrics.ObserveBackendCall(op, "error")
		a.logger.Warn("backend call failed", zap.String("op", op), zap.String("model", model), zap.Error(err))
		return "", false
	}
	return text, true
}

func (a *Adapter) payload(op, text string) ([]byte, bool) {
	raw, err := ParsePayload(text)
	if err != nil {
		a.malformed(op, text, err)
		return nil, false
	}
	return raw, true
}

func (a *Adapter) fieldSets(op, text string) []crawler.FieldSet {
	raw, ok := a.payload(op, text)
	if !ok {
		return nil
	}
	sets, err := decodeFieldSets(raw)
	if err != nil {
		a.malformed(op, text, err)
		return nil
	}
	if len(sets) == 0 {
		metrics.ObserveBackendCall(op, "empty")
		return nil
	}
	metrics.ObserveBackendCall(op, "ok")
	return sets
}

func (a *Adapter) malformed(op, text string, err error) {
	metrics.ObserveBackendCall(op, "malformed")
	if len(text) > maxLoggedPayload {
		text = text[:maxLoggedPayload]
	}
	a.logger.Warn("malformed backend response",
		zap.String("op", op),
		zap.String("raw", text),
		zap.Error(err),
	)
}
