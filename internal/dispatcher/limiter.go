package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
)

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// Phase labels metrics and logs.
	Phase    string
	Capacity int
	// UnitTimeout bounds each unit. Zero means no bound.
	UnitTimeout time.Duration
	// Observer, when set, is called with the in-flight count after every
	// acquire and release.
	Observer func(inFlight int64)
}

// Limiter caps the number of units of one phase running at the same time.
type Limiter struct {
	phase       string
	capacity    int64
	unitTimeout time.Duration
	sem         *semaphore.Weighted
	observer    func(int64)
	logger      *zap.Logger

	mu       sync.Mutex
	inFlight int64
	peak     int64
}

// NewLimiter validates cfg and builds a Limiter.
func NewLimiter(cfg LimiterConfig, logger *zap.Logger) (*Limiter, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("limiter %q capacity must be at least 1, got %d", cfg.Phase, cfg.Capacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		phase:       cfg.Phase,
		capacity:    int64(cfg.Capacity),
		unitTimeout: cfg.UnitTimeout,
		sem:         semaphore.NewWeighted(int64(cfg.Capacity)),
		observer:    cfg.Observer,
		logger:      logger,
	}, nil
}

// Capacity returns the configured cap.
func (l *Limiter) Capacity() int { return int(l.capacity) }

// InFlight returns the number of units currently holding a slot.
func (l *Limiter) InFlight() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Peak returns the highest in-flight count observed.
func (l *Limiter) Peak() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

func (l *Limiter) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s slot: %w", l.phase, err)
	}
	l.adjust(1)
	return nil
}

func (l *Limiter) release() {
	l.adjust(-1)
	l.sem.Release(1)
}

func (l *Limiter) adjust(delta int64) {
	l.mu.Lock()
	l.inFlight += delta
	current := l.inFlight
	if current > l.peak {
		l.peak = current
	}
	l.mu.Unlock()

	metrics.SetInFlight(l.phase, current)
	if l.observer != nil {
		l.observer(current)
	}
}
