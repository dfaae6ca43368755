// Package dispatcher fans a fixed list of tasks out to goroutines while
// holding concurrency under a per-phase cap.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/metrics"
)

// ErrPanic wraps a value recovered from a panicking unit.
var ErrPanic = errors.New("unit panicked")

// Unit processes one task. The index is the task's position in the input.
type Unit[T, R any] func(ctx context.Context, index int, task T) (R, error)

// Outcome is the per-task result of Run. Skipped is set for tasks that were
// never launched because the run was cancelled.
type Outcome[R any] struct {
	Value    R
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Run launches one goroutine per task, acquiring a limiter slot in task
// order before each launch, and waits for every launched unit. Once ctx is
// done no further unit is started. Units already running keep going on a
// context detached from ctx's cancellation, bounded by the limiter's unit
// timeout.
func Run[T, R any](ctx context.Context, limiter *Limiter, tasks []T, unit Unit[T, R]) []Outcome[R] {
	outcomes := make([]Outcome[R], len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if ctx.Err() != nil {
			markSkipped(limiter.phase, outcomes[i:])
			break
		}
		if err := limiter.acquire(ctx); err != nil {
			markSkipped(limiter.phase, outcomes[i:])
			break
		}
		wg.Add(1)
		go func(i int, task T) {
			defer wg.Done()
			defer limiter.release()
			outcomes[i] = runUnit(ctx, limiter, i, task, unit)
		}(i, task)
	}

	wg.Wait()
	return outcomes
}

func runUnit[T, R any](ctx context.Context, limiter *Limiter, index int, task T, unit Unit[T, R]) (out Outcome[R]) {
	unitCtx := context.WithoutCancel(ctx)
	if limiter.unitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(unitCtx, limiter.unitTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			limiter.logger.Error("unit panicked",
				zap.String("phase", limiter.phase),
				zap.Int("index", index),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		outcome := "ok"
		if out.Err != nil {
			outcome = "error"
		}
		metrics.ObserveUnit(limiter.phase, outcome, out.Duration)
	}()

	out.Value, out.Err = unit(unitCtx, index, task)
	return out
}

func markSkipped[R any](phase string, outcomes []Outcome[R]) {
	for i := range outcomes {
		outcomes[i].Skipped = true
	}
	metrics.ObserveSkipped(phase, len(outcomes))
}
