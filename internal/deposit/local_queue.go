package deposit

import (
	"CricLedger/internal/domain"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Pipeline.Handle satisfies it.
type Handler func(ctx context.Context, job Job) Outcome

// LocalQueue is an in-process Scheduler for single-node deployments and
// tests. It is not durable: jobs are lost on restart, and RequeueStale picks
// the affected deposits up again.
type LocalQueue struct {
	jobs     chan Job
	workers  int
	log      zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

func NewLocalQueue(buffer, workers int, log zerolog.Logger) *LocalQueue {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &LocalQueue{
		jobs:    make(chan Job, buffer),
		workers: workers,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Schedule implements Scheduler. An immediate job fails with a Transient
// error when the buffer is full.
func (q *LocalQueue) Schedule(ctx context.Context, job Job, delay time.Duration) error {
	if delay > 0 {
		time.AfterFunc(delay, func() {
			select {
			case q.jobs <- job:
			case <-q.done:
			}
		})
		return nil
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return domain.Errorf(domain.ErrTransient, "local queue stopped")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.Errorf(domain.ErrTransient, "local queue full")
	}
}

// Run consumes jobs with the configured number of workers until ctx is done.
func (q *LocalQueue) Run(ctx context.Context, handle Handler) error {
	defer q.stopOnce.Do(func() { close(q.done) })

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-q.jobs:
					out := handle(ctx, job)
					if !out.Retry {
						continue
					}
					next := Job{Reference: job.Reference, Attempt: job.Attempt + 1}
					if err := q.Schedule(ctx, next, out.Delay); err != nil {
						q.log.Warn().Err(err).Str("reference", job.Reference).Msg("re-schedule failed")
					}
				}
			}
		})
	}
	return g.Wait()
}
