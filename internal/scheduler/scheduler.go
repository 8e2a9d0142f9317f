// Package scheduler runs the periodic maintenance jobs: the contest entry
// cutoff and the stale deposit sweeper.
package scheduler

import (
	"CricLedger/internal/contest"
	"CricLedger/internal/deposit"
	"CricLedger/internal/observability"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultJobTimeout bounds one run of any job.
const DefaultJobTimeout = 30 * time.Second

// JobFunc is one unit of scheduled work. The returned count is logged.
type JobFunc func(ctx context.Context) (int, error)

// Scheduler wraps a cron runner. Runs of the same job never overlap and a
// panicking job is recovered.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu   sync.Mutex
	base context.Context
}

func New(log zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		metrics: metrics,
		timeout: DefaultJobTimeout,
		base:    context.Background(),
	}
}

// Add registers fn under name on a standard five-field cron spec or a
// descriptor such as "@every 30s".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.context(), name, fn) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// RunOnce executes fn immediately under the job timeout and records the
// outcome.
func (s *Scheduler) RunOnce(ctx context.Context, name string, fn JobFunc) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Error().Err(err).Str("job", name).Int("count", n).Msg("scheduled job failed")
	} else if n > 0 {
		s.log.Info().Str("job", name).Int("count", n).Dur("elapsed", time.Since(start)).Msg("scheduled job done")
	}
	if s.metrics != nil {
		s.metrics.SchedulerRuns.WithLabelValues(name, outcome).Inc()
	}
	return n, err
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// ContestCutoff closes open contests past their entry deadline, up to batch
// per run.
func ContestCutoff(m *contest.Manager, batch int, now func() time.Time) JobFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (int, error) {
		return m.CloseExpired(ctx, now(), batch)
	}
}

// DepositSweep re-schedules pending deposits older than olderThan.
func DepositSweep(p *deposit.Pipeline, olderThan time.Duration) JobFunc {
	return func(ctx context.Context) (int, error) {
		return p.RequeueStale(ctx, olderThan)
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
