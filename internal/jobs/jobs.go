// Package jobs runs the periodic maintenance work of the API process on a
// cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/01moynul/zyra-golang/internal/metrics"
)

const (
	StaleOrdersSpec    = "@every 1h"
	LimiterCleanupSpec = "@every 10m"

	// LimiterIdle is how long a rate limit visitor is kept without traffic.
	LimiterIdle = 30 * time.Minute

	jobTimeout = 5 * time.Minute
)

// StaleOrderExpirer cancels pending orders nobody acted on.
type StaleOrderExpirer interface {
	ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int, error)
}

// LimiterCleaner forgets idle rate limit visitors.
type LimiterCleaner interface {
	Cleanup(maxIdle time.Duration) int
}

// Func is one run of a job.
type Func func(ctx context.Context) error

// Scheduler wraps a cron runner with logging, metrics and a shared context
// that is cancelled on Stop.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Overlapping runs of the same job are skipped and
// panics are recovered.
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "jobs").Logger()
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules fn under name.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Run(name, fn) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Run executes one job immediately with the scheduler's bookkeeping.
func (s *Scheduler) Run(name string, fn Func) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordJobRun(name, err == nil)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
}

// Len is the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// ExpireStaleOrders is the job that cancels pending orders older than after.
func ExpireStaleOrders(exp StaleOrderExpirer, after time.Duration, log zerolog.Logger) Func {
	return func(ctx context.Context) error {
		n, err := exp.ExpireStaleOrders(ctx, after)
		if n > 0 {
			log.Info().Int("cancelled", n).Dur("olderThan", after).Msg("expired stale orders")
		}
		return err
	}
}

// CleanupLimiter is the job that drops idle rate limit visitors.
func CleanupLimiter(l LimiterCleaner, maxIdle time.Duration, log zerolog.Logger) Func {
	return func(context.Context) error {
		if n := l.Cleanup(maxIdle); n > 0 {
			log.Debug().Int("removed", n).Msg("rate limiter cleanup")
		}
		return nil
	}
}

// Register schedules the standard jobs of the API process.
func Register(s *Scheduler, exp StaleOrderExpirer, staleAfter time.Duration, limiter LimiterCleaner) error {
	if err := s.Add("expire_stale_orders", StaleOrdersSpec, ExpireStaleOrders(exp, staleAfter, s.log)); err != nil {
		return err
	}
	if limiter != nil {
		if err := s.Add("limiter_cleanup", LimiterCleanupSpec, CleanupLimiter(limiter, LimiterIdle, s.log)); err != nil {
			return err
		}
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
