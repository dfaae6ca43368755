// Package headless renders JavaScript-heavy portal pages with headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
	"github.com/JakeFAU/interpelli-crawler/internal/policy/ratelimit"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleTimeout bounds how long a render waits for portal scripts to
	// stop changing the page text after the body is ready.
	SettleTimeout time.Duration
}

const (
	defaultNavTimeout    = 45 * time.Second
	defaultSettleTimeout = 3 * time.Second
	settlePoll           = 250 * time.Millisecond
)

// Fetcher returns the rendered DOM of a page using chromedp.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	pacer       *ratelimit.Limiter
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first fetch.
func NewChromedp(cfg Config, pacer *ratelimit.Limiter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		slots:       slots,
		pacer:       pacer,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// FetchHTML navigates to rawURL and returns the rendered DOM. A main document
// answered with 404 or 410 is reported as found=false.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) (string, bool, error) {
	if err := f.pacer.Wait(ctx, rawURL); err != nil {
		return "", false, err
	}
	if err := f.acquire(ctx); err != nil {
		return "", false, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, err := f.render(taskCtx, rawURL)
	if err != nil {
		metrics.ObserveFetch("headless", "error")
		return "", false, err
	}
	status := meta.snapshot()
	f.logger.Debug("headless render",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	if status == http.StatusNotFound || status == http.StatusGone {
		metrics.ObserveFetch("headless", "not_found")
		return "", false, nil
	}
	if status >= http.StatusBadRequest {
		metrics.ObserveFetch("headless", "error")
		return "", false, fmt.Errorf("headless fetch %s: status %d", rawURL, status)
	}
	metrics.ObserveFetch("headless", "ok")
	return html, true, nil
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, error) {
	var html string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.settleAction(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// settleAction polls the length of the rendered body text until two
// consecutive readings agree or the settle timeout passes. Portals such as
// Spaggiari and Argo fill their notice tables after the load event.
func (f *Fetcher) settleAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		deadline := time.Now().Add(f.settleTimeout())
		last := -1
		for time.Now().Before(deadline) {
			var size int
			if err := chromedp.Evaluate(`document.body ? document.body.innerText.length : 0`, &size).Do(ctx); err != nil {
				return fmt.Errorf("measure rendered text: %w", err)
			}
			if size == last && size > 0 {
				return nil
			}
			last = size
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settlePoll):
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) settleTimeout() time.Duration {
	if f.cfg.SettleTimeout > 0 {
		return f.cfg.SettleTimeout
	}
	return defaultSettleTimeout
}

// responseMeta keeps the status of the first main-document response.
type responseMeta struct {
	mu     sync.Mutex
	status int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.status == 0 {
		m.status = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}
