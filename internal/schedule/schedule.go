// Package schedule runs harvests periodically on a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled harvest. Errors are logged by the scheduler.
type Job func(ctx context.Context) error

// Scheduler wraps robfig/cron. Ticks that arrive while the previous harvest
// is still running are skipped.
type Scheduler struct {
	cron   *cron.Cron
	expr   string
	job    Job
	logger *zap.Logger
}

// New validates expr and builds a Scheduler. Standard five-field
// expressions and descriptors such as "@every 24h" are accepted.
func New(expr string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduled job is required")
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Named("cron")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		expr:   expr,
		job:    job,
		logger: logger,
	}, nil
}

// Run registers the job, optionally fires it once immediately and blocks
// until ctx is done. It then waits for a running harvest to return.
func (s *Scheduler) Run(ctx context.Context, runNow bool) error {
	entry, err := s.cron.AddFunc(s.expr, func() { s.fire(ctx) })
	if err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("expr", s.expr),
		zap.Time("next", s.cron.Entry(entry).Next),
	)

	var immediate sync.WaitGroup
	if runNow {
		// Goes through the same chain so an immediate run and the first tick
		// never overlap.
		immediate.Add(1)
		go func() {
			defer immediate.Done()
			s.cron.Entry(entry).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	immediate.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info("scheduled harvest starting")
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled harvest failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled harvest finished")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
