// Package ratelimit implements per-host token buckets that pace outbound
// requests to school sites and the extraction backend.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
)

// MaxBackoff caps how long a single throttling response can pause a host.
const MaxBackoff = 2 * time.Minute

// Limiter manages one token bucket per key (usually a hostname). A key can
// additionally be paused after the remote side asks us to slow down.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*rate.Limiter
	pausedUntil  map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

// Config holds rate limiter configuration. A non-positive rate disables pacing.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := max(cfg.DefaultBurst, 1)
	return &Limiter{
		buckets:      make(map[string]*rate.Limiter),
		pausedUntil:  make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the
// context. Hosts are keyed case-insensitively.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	return l.WaitKey(ctx, metrics.SanitizeSite(rawURL))
}

// WaitKey blocks until key is not paused and a token is available.
func (l *Limiter) WaitKey(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.buckets[key] = bucket
	}
	pause := l.pausedUntil[key].Sub(l.now())
	l.mu.Unlock()

	start := time.Now()
	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

// Backoff pauses the URL's host for d, capped at MaxBackoff. An earlier pause
// that ends later is kept.
func (l *Limiter) Backoff(rawURL string, d time.Duration) {
	l.BackoffKey(metrics.SanitizeSite(rawURL), d)
}

// BackoffKey pauses key for d, capped at MaxBackoff.
func (l *Limiter) BackoffKey(key string, d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	d = min(d, MaxBackoff)
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.pausedUntil[key]) {
		l.pausedUntil[key] = until
	}
}
