package ingestion

import (
	"CricLedger/internal/deposit"
	"CricLedger/internal/domain"
	"CricLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultPublishTimeout bounds one queue publish.
const DefaultPublishTimeout = 3 * time.Second

// DepositQueue is the durable deposit.Scheduler backed by JetStream.
//
// A delayed job is published at once with a not-before header; the consumer
// naks it with the remaining delay until it is due. Retry outcomes are naked
// with their delay, so redelivery count doubles as the attempt number.
type DepositQueue struct {
	js             jetstream.JetStream
	log            zerolog.Logger
	metrics        *observability.Metrics
	publishTimeout time.Duration
	now            func() time.Time
	consumer       jetstream.ConsumeContext
}

var _ deposit.Scheduler = (*DepositQueue)(nil)

func NewDepositQueue(js jetstream.JetStream, log zerolog.Logger, metrics *observability.Metrics) *DepositQueue {
	return &DepositQueue{
		js:             js,
		log:            log,
		metrics:        metrics,
		publishTimeout: DefaultPublishTimeout,
		now:            time.Now,
	}
}

// Schedule implements deposit.Scheduler.
func (q *DepositQueue) Schedule(ctx context.Context, job deposit.Job, delay time.Duration) error {
	msg, err := q.jobMessage(job, delay)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()

	if _, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(jobMsgID(job, msg))); err != nil {
		if q.metrics != nil {
			q.metrics.QueuePublishErrors.Inc()
		}
		return domain.Errorf(domain.ErrTransient, "publish confirm job %s: %v", job.Reference, err)
	}
	return nil
}

func (q *DepositQueue) jobMessage(job deposit.Job, delay time.Duration) (*nats.Msg, error) {
	data, err := encodeJob(job)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(SubjectConfirm + "." + subjectToken(job.Reference))
	msg.Data = data
	if delay > 0 {
		msg.Header.Set(HeaderNotBefore, formatNotBefore(q.now().Add(delay)))
	}
	return msg, nil
}

// jobMsgID dedupes publish retries of the same job; a later schedule of the
// same reference carries a different not-before and is kept.
func jobMsgID(job deposit.Job, msg *nats.Msg) string {
	return fmt.Sprintf("%s:%d:%s", job.Reference, job.Attempt, msg.Header.Get(HeaderNotBefore))
}

// Run consumes confirm jobs and hands them to handle until ctx is done.
func (q *DepositQueue) Run(ctx context.Context, handle deposit.Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamDeposits, jetstream.ConsumerConfig{
		Durable:       "cric-deposit-confirm",
		FilterSubject: SubjectConfirm + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		MaxAckPending: 256,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer cric-deposit-confirm: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.deliver(ctx, msg, handle)
	})
	if err != nil {
		return fmt.Errorf("consume cric-deposit-confirm: %w", err)
	}
	q.consumer = cc
	q.log.Info().Str("subject", SubjectConfirm+".>").Msg("deposit confirm queue consuming")

	<-ctx.Done()
	cc.Stop()
	q.log.Info().Msg("deposit confirm queue stopped")
	return nil
}

func (q *DepositQueue) deliver(ctx context.Context, msg jetstream.Msg, handle deposit.Handler) {
	job, err := ParseJob(msg.Data())
	if err != nil {
		q.log.Error().Err(err).Str("subject", msg.Subject()).Msg("undecodable confirm job dropped")
		_ = msg.Term()
		return
	}

	if due, ok := parseNotBefore(msg.Headers().Get(HeaderNotBefore)); ok {
		if wait := due.Sub(q.now()); wait > 0 {
			_ = msg.NakWithDelay(wait)
			return
		}
	}

	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 1 {
		job.Attempt += int(md.NumDelivered) - 1
		if q.metrics != nil {
			q.metrics.QueueRedeliveries.Inc()
		}
	}

	out := handle(ctx, job)
	if out.Retry {
		_ = msg.NakWithDelay(out.Delay)
		return
	}
	_ = msg.Ack()
}
