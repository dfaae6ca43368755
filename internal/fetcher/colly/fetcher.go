// Package collyfetcher retrieves listing pages, article pages and notice
// documents using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
	"github.com/JakeFAU/interpelli-crawler/internal/policy/ratelimit"
)

const (
	defaultDriveEndpoint = "https://drive.google.com/uc"
	// defaultBackoff pauses a throttling host that sent no usable Retry-After.
	defaultBackoff = 10 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	MaxBodyBytes    int
	PerDomainMax    int
	ScratchDir      string
	// DriveEndpoint overrides the cloud-drive download endpoint.
	DriveEndpoint string
}

// Fetcher fetches HTML and downloads documents. A single base collector (and
// its transport) is shared; each request runs on a clone.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// response is the part of an HTTP exchange the fetcher keeps.
type response struct {
	status      int
	contentType string
	body        []byte
	finalURL    *url.URL
	retryAfter  string
}

// New builds a Fetcher and prepares the scratch directory.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.ScratchDir) == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.DriveEndpoint == "" {
		cfg.DriveEndpoint = defaultDriveEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	if cfg.PerDomainMax > 0 {
		if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: cfg.PerDomainMax}); err != nil {
			return nil, fmt.Errorf("configure limit rule: %w", err)
		}
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
		active:        make(map[string]struct{}),
	}, nil
}

// FetchHTML returns the page body. A missing page (404/410) is reported as
// found=false with a nil error; any other failure is returned as an error.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) (string, bool, error) {
	resp, err := f.get(ctx, rawURL, f.cfg.Timeout)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		metrics.ObserveFetch("page", "not_found")
		return "", false, nil
	case err != nil:
		metrics.ObserveFetch("page", "error")
		return "", false, fmt.Errorf("fetch page %s: %w", rawURL, err)
	}
	metrics.ObserveFetch("page", "ok")
	return string(resp.body), true, nil
}

// Download retrieves a document into the scratch directory and returns its
// path. found=false means no file could be identified or the resource is
// missing. The caller must hand the path back to Discard once done.
func (f *Fetcher) Download(ctx context.Context, rawURL string, kind crawler.DocumentKind) (string, bool, error) {
	var (
		body  []byte
		found bool
		err   error
	)
	switch kind {
	case crawler.DocumentDirect:
		body, found, err = f.fetchDirect(ctx, rawURL)
	case crawler.DocumentCloudDrive:
		body, found, err = f.fetchDrive(ctx, rawURL)
	default:
		return "", false, fmt.Errorf("unsupported document kind %q", kind)
	}
	label := string(kind)
	switch {
	case err != nil:
		metrics.ObserveFetch(label, "error")
		return "", false, fmt.Errorf("download %s: %w", rawURL, err)
	case !found:
		metrics.ObserveFetch(label, "not_found")
		return "", false, nil
	}

	path := f.claim(rawURL)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		f.release(path)
		metrics.ObserveFetch(label, "error")
		return "", false, fmt.Errorf("write document: %w", err)
	}
	metrics.ObserveFetch(label, "ok")
	return path, true, nil
}

// Discard removes a downloaded document.
func (f *Fetcher) Discard(path string) error {
	defer f.release(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, rawURL string) ([]byte, bool, error) {
	resp, err := f.get(ctx, rawURL, f.cfg.DownloadTimeout)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return resp.body, true, nil
}

// claim reserves a scratch path for rawURL. The name is derived from the URL;
// if another unit currently holds the same name a numeric suffix is added.
func (f *Fetcher) claim(rawURL string) string {
	name := crawler.DocumentFilename(rawURL)
	f.mu.Lock()
	defer f.mu.Unlock()
	path := filepath.Join(f.cfg.ScratchDir, name)
	for i := 1; ; i++ {
		if _, busy := f.active[path]; !busy {
			break
		}
		path = filepath.Join(f.cfg.ScratchDir, fmt.Sprintf("%s_%d.pdf", strings.TrimSuffix(name, ".pdf"), i))
	}
	f.active[path] = struct{}{}
	return path
}

func (f *Fetcher) release(path string) {
	f.mu.Lock()
	delete(f.active, path)
	f.mu.Unlock()
}

func (f *Fetcher) get(ctx context.Context, rawURL string, timeout time.Duration) (response, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return response{}, err
	}

	var (
		result   response
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL); err != nil {
		if ctx.Err() == nil && isNotFound(result.status) {
			return response{}, crawler.ErrNotFound
		}
		return response{}, err
	}
	if isNotFound(result.status) {
		return response{}, crawler.ErrNotFound
	}
	if isThrottled(result.status) {
		pause := retryAfter(result.retryAfter, time.Now())
		f.limiter.Backoff(rawURL, pause)
		f.logger.Warn("host asked to slow down",
			zap.String("url", rawURL),
			zap.Int("status", result.status),
			zap.Duration("pause", pause),
		)
	}
	if fetchErr != nil {
		return response{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.5")
		f.logger.Debug("fetch request", zap.String("url", r.URL.String()))
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = response{
			status:      r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
			finalURL:    r.Request.URL,
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
			if r.Headers != nil {
				result.retryAfter = r.Headers.Get("Retry-After")
			}
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func isNotFound(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

func isThrottled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After header given either as seconds or as an
// HTTP date. Missing or unparsable values fall back to defaultBackoff.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultBackoff
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return defaultBackoff
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return defaultBackoff
}

func isHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
