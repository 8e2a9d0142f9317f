// Package deposit ingests external deposit notifications and credits them
// once they reach the confirmation threshold.
//
// Ingest is synchronous and only records a pending LedgerTransaction keyed by
// the notification reference. Crediting runs from a durable at-least-once
// queue and is idempotent: the reference is unique in storage and the row's
// status is re-checked under lock before any balance moves.
package deposit

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ledger"
	"CricLedger/internal/money"
	"CricLedger/internal/observability"
	"CricLedger/internal/retry"
	"CricLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OwnerKey is the metadata key carrying the credited wallet's owner id.
const OwnerKey = "user_id"

const maxReferenceLen = 256

// Notification is an inbound deposit observation.
type Notification struct {
	Reference     string          `json:"reference"`
	Amount        string          `json:"amount"`
	Confirmations int             `json:"confirmations"`
	Metadata      domain.Metadata `json:"metadata"`
}

// Ack is returned for every accepted notification, including retransmissions.
type Ack struct {
	OK            bool      `json:"ok"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Duplicate     bool      `json:"-"`
}

// Job asks the confirm stage to look at one reference.
type Job struct {
	Reference string `json:"reference"`
	Attempt   int    `json:"attempt"`
}

// Scheduler enqueues jobs on a durable at-least-once queue. delay is a hint;
// a job may run later but never needs to run earlier.
type Scheduler interface {
	Schedule(ctx context.Context, job Job, delay time.Duration) error
}

// Result of one confirm-and-credit pass.
type Result uint8

const (
	ResultUnknown Result = iota
	ResultCredited
	ResultAlreadyCredited
	ResultAwaitingConfirmations
	ResultFailed
	ResultAlreadyFailed
)

func (r Result) String() string {
	switch r {
	case ResultCredited:
		return "credited"
	case ResultAlreadyCredited:
		return "already_credited"
	case ResultAwaitingConfirmations:
		return "awaiting_confirmations"
	case ResultFailed:
		return "failed"
	case ResultAlreadyFailed:
		return "already_failed"
	default:
		return "unknown"
	}
}

// Config for the pipeline.
type Config struct {
	// Threshold is the confirmation count at which a deposit is credited.
	Threshold int
	// Backoff spaces out re-checks of deposits still below Threshold and of
	// jobs that failed with a retryable error.
	Backoff retry.Policy
	// SweepBatch bounds how many stale deposits RequeueStale re-schedules.
	SweepBatch int
}

var DefaultConfig = Config{
	Threshold:  12,
	Backoff:    retry.Policy{Initial: 2 * time.Second, Max: 2 * time.Minute},
	SweepBatch: 500,
}

// Pipeline implements both deposit stages.
type Pipeline struct {
	ledger  *ledger.Ledger
	sched   Scheduler
	events  event.Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
	cfg     Config
}

func NewPipeline(
	l *ledger.Ledger,
	sched Scheduler,
	events event.Publisher,
	log zerolog.Logger,
	metrics *observability.Metrics,
	cfg Config,
) *Pipeline {
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig.SweepBatch
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultConfig.Backoff
	}
	if events == nil {
		events = event.Nop{}
	}
	return &Pipeline{
		ledger:  l,
		sched:   sched,
		events:  events,
		log:     log,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Threshold returns the configured confirmation threshold.
func (p *Pipeline) Threshold() int { return p.cfg.Threshold }

func (n Notification) parse() (decimal.Decimal, error) {
	ref := strings.TrimSpace(n.Reference)
	if ref == "" || ref != n.Reference {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "reference must be non-empty without surrounding spaces")
	}
	if len(ref) > maxReferenceLen {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "reference longer than %d bytes", maxReferenceLen)
	}
	if n.Confirmations < 0 {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "confirmations must be >= 0")
	}
	amount, err := money.Parse(n.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "amount must be positive, got %s", amount)
	}
	return amount, nil
}

// Ingest records n and schedules it for crediting. A reference seen before
// returns the previously recorded transaction id and changes nothing except
// raising the stored confirmation count.
func (p *Pipeline) Ingest(ctx context.Context, n Notification) (Ack, error) {
	amount, err := n.parse()
	if err != nil {
		p.countIngest("rejected")
		return Ack{}, err
	}

	ack, schedule, err := p.ingestOnce(ctx, n, amount)
	if errors.Is(err, domain.ErrDuplicateEvent) {
		// Lost the insert race to a concurrent retransmission.
		ack, schedule, err = p.ingestOnce(ctx, n, amount)
	}
	if err != nil {
		p.countIngest("error")
		return Ack{}, err
	}

	if ack.Duplicate {
		p.countIngest("duplicate")
	} else {
		p.countIngest("accepted")
		event.Emit(ctx, p.events, p.log, event.New(event.TypeDepositAccepted, n.Reference, p.ledger.Now(), event.DepositAccepted{
			TransactionID: ack.TransactionID,
			Reference:     n.Reference,
			Amount:        amount,
			Confirmations: n.Confirmations,
		}))
	}

	if schedule {
		if err := p.sched.Schedule(ctx, Job{Reference: n.Reference}, 0); err != nil {
			// The row is pending and the sweeper re-schedules it.
			if p.metrics != nil {
				p.metrics.QueuePublishErrors.Inc()
			}
			p.log.Warn().Err(err).Str("reference", n.Reference).Msg("schedule deposit job failed")
		}
	}
	return ack, nil
}

func (p *Pipeline) ingestOnce(ctx context.Context, n Notification, amount decimal.Decimal) (Ack, bool, error) {
	var (
		ack      Ack
		schedule bool
	)
	err := p.ledger.InTx(ctx, "deposit_ingest", func(tx store.Tx) error {
		ack, schedule = Ack{}, false

		existing, err := tx.LockTransactionByReference(ctx, n.Reference)
		switch {
		case err == nil:
			if existing.Kind != domain.TxKindDeposit {
				return domain.Errorf(domain.ErrValidation, "reference %q belongs to a %s transaction", n.Reference, existing.Kind)
			}
			if !existing.Amount.Equal(amount) {
				p.log.Warn().
					Str("reference", n.Reference).
					Str("recorded", existing.Amount.String()).
					Str("received", amount.String()).
					Msg("retransmitted deposit amount differs from recorded amount")
			}
			if existing.Status == domain.TxStatusPending && n.Confirmations > existing.Confirmations {
				existing.Confirmations = n.Confirmations
				if err := tx.UpdateTransaction(ctx, existing); err != nil {
					return err
				}
				schedule = true
			}
			ack = Ack{OK: true, TransactionID: existing.ID, Duplicate: true}
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		md := make(domain.Metadata, len(n.Metadata))
		for k, v := range n.Metadata {
			md[k] = v
		}
		owner, problem, err := p.resolveOwner(ctx, tx, n.Metadata)
		if err != nil {
			return err
		}
		if problem != "" {
			// Resolved again when the deposit is credited.
			p.log.Info().Str("reference", n.Reference).Str("problem", problem).Msg("deposit owner unresolved at ingest")
		}

		lt := domain.LedgerTransaction{
			ID:            uuid.New(),
			Owner:         owner,
			Reference:     n.Reference,
			Kind:          domain.TxKindDeposit,
			Bucket:        domain.BucketDeposit,
			Amount:        amount,
			Status:        domain.TxStatusPending,
			Confirmations: n.Confirmations,
			Metadata:      md,
			CreatedAt:     p.ledger.Now(),
		}
		if err := tx.InsertTransaction(ctx, lt); err != nil {
			return err
		}
		ack = Ack{OK: true, TransactionID: lt.ID}
		schedule = true
		return nil
	})
	return ack, schedule, err
}

// resolveOwner maps metadata.user_id to an existing wallet. A non-empty
// problem means no wallet can take the deposit right now; err is a lookup
// failure and leaves the decision to a later attempt.
func (p *Pipeline) resolveOwner(ctx context.Context, tx store.Tx, md domain.Metadata) (uuid.NullUUID, string, error) {
	raw := md.StringValue(OwnerKey)
	if raw == "" {
		return uuid.NullUUID{}, "missing " + OwnerKey, nil
	}
	owner, err := uuid.Parse(raw)
	if err != nil || owner == uuid.Nil {
		return uuid.NullUUID{}, "invalid " + OwnerKey, nil
	}
	if _, err := tx.GetWallet(ctx, owner); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.NullUUID{}, "unknown wallet " + owner.String(), nil
		}
		return uuid.NullUUID{}, "", fmt.Errorf("resolve deposit owner %s: %w", owner, err)
	}
	return uuid.NullUUID{UUID: owner, Valid: true}, "", nil
}

// ConfirmAndCredit credits the deposit for reference once it has enough
// confirmations. It is safe to call any number of times.
func (p *Pipeline) ConfirmAndCredit(ctx context.Context, reference string) (Result, error) {
	var (
		res    Result
		lt     domain.LedgerTransaction
		reason string
	)
	err := p.ledger.InTx(ctx, "deposit_confirm", func(tx store.Tx) error {
		res, reason = ResultUnknown, ""

		var err error
		lt, err = tx.LockTransactionByReference(ctx, reference)
		if err != nil {
			return err
		}
		if lt.Kind != domain.TxKindDeposit {
			return domain.Errorf(domain.ErrValidation, "reference %q is not a deposit", reference)
		}

		switch lt.Status {
		case domain.TxStatusCredited:
			res = ResultAlreadyCredited
			return nil
		case domain.TxStatusFailed:
			res = ResultAlreadyFailed
			return nil
		}
		if lt.Confirmations < p.cfg.Threshold {
			res = ResultAwaitingConfirmations
			return nil
		}

		// The wallet may have been created after the notification arrived.
		if !lt.Owner.Valid {
			owner, problem, err := p.resolveOwner(ctx, tx, lt.Metadata)
			if err != nil {
				return err
			}
			lt.Owner, reason = owner, problem
		}
		if reason == "" {
			reason = invalidDeposit(lt)
		}

		now := p.ledger.Now()
		if reason != "" {
			if err := lt.Advance(domain.TxStatusFailed); err != nil {
				return err
			}
			lt.ProcessedAt = &now
			if lt.Metadata == nil {
				lt.Metadata = domain.Metadata{}
			}
			lt.Metadata["failure_reason"] = reason
			res = ResultFailed
			return tx.UpdateTransaction(ctx, lt)
		}

		if lt.Status == domain.TxStatusPending {
			if err := lt.Advance(domain.TxStatusConfirmed); err != nil {
				return err
			}
		}
		if _, err := p.ledger.ApplyCredit(ctx, tx, ledger.Posting{
			Owner:     lt.Owner.UUID,
			Bucket:    domain.BucketDeposit,
			Amount:    lt.Amount,
			Kind:      domain.TxKindDeposit,
			Reference: lt.Reference,
			Recorded:  true,
		}); err != nil {
			return err
		}
		if err := lt.Advance(domain.TxStatusCredited); err != nil {
			return err
		}
		lt.ProcessedAt = &now
		res = ResultCredited
		return tx.UpdateTransaction(ctx, lt)
	})
	if err != nil {
		return ResultUnknown, err
	}

	switch res {
	case ResultCredited:
		if p.metrics != nil {
			p.metrics.DepositConfirmLatency.Observe(lt.ProcessedAt.Sub(lt.CreatedAt).Seconds())
		}
		p.log.Info().
			Str("reference", reference).
			Str("owner", lt.Owner.UUID.String()).
			Str("amount", lt.Amount.String()).
			Msg("deposit credited")
		event.Emit(ctx, p.events, p.log, event.New(event.TypeDepositCredited, reference, *lt.ProcessedAt, event.DepositCredited{
			TransactionID: lt.ID,
			Reference:     reference,
			Owner:         lt.Owner.UUID,
			Amount:        lt.Amount,
		}))
	case ResultFailed:
		p.log.Warn().Str("reference", reference).Str("reason", reason).Msg("deposit failed")
		event.Emit(ctx, p.events, p.log, event.New(event.TypeDepositFailed, reference, *lt.ProcessedAt, event.DepositFailed{
			TransactionID: lt.ID,
			Reference:     reference,
			Reason:        reason,
		}))
	}
	return res, nil
}

func invalidDeposit(lt domain.LedgerTransaction) string {
	if !lt.Owner.Valid {
		return "missing owner"
	}
	if !lt.Amount.IsPositive() || !money.HasLedgerScale(lt.Amount) {
		return "invalid amount " + lt.Amount.String()
	}
	return ""
}

// Outcome tells a queue what to do with a delivered job.
type Outcome struct {
	Result Result
	Err    error
	// Retry asks for redelivery after Delay. When false the job is done.
	Retry bool
	Delay time.Duration
}

// Handle runs the confirm stage for one delivered job and decides whether it
// must be delivered again.
func (p *Pipeline) Handle(ctx context.Context, job Job) Outcome {
	start := time.Now()
	res, err := p.ConfirmAndCredit(ctx, job.Reference)
	if p.metrics != nil {
		p.metrics.QueueHandleDuration.Observe(time.Since(start).Seconds())
	}

	out := Outcome{Result: res, Err: err}
	switch {
	case err == nil && res == ResultAwaitingConfirmations:
		out.Retry = true
	case err != nil && domain.Classify(err) == domain.DispositionRetry:
		out.Retry = true
		p.log.Warn().Err(err).Str("reference", job.Reference).Int("attempt", job.Attempt).Msg("deposit job will be retried")
	case err != nil && domain.Classify(err) == domain.DispositionTerminal:
		p.log.Error().Err(err).Str("reference", job.Reference).Msg("deposit job dropped")
	}
	if out.Retry {
		out.Delay = p.cfg.Backoff.Backoff(job.Attempt + 1)
	}

	if p.metrics != nil {
		label := res.String()
		if err != nil {
			label = "error_" + domain.KindOf(err).String()
		}
		p.metrics.DepositsProcessed.WithLabelValues(label).Inc()
	}
	return out
}

// RequeueStale re-schedules pending deposits created before now-olderThan, so
// a lost job never strands a deposit. It returns how many were scheduled.
func (p *Pipeline) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	var stale []domain.LedgerTransaction
	cutoff := p.ledger.Now().Add(-olderThan)
	err := p.ledger.InTx(ctx, "deposit_sweep", func(tx store.Tx) error {
		var err error
		stale, err = tx.ListStalePending(ctx, domain.TxKindDeposit, cutoff, p.cfg.SweepBatch)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, lt := range stale {
		if err := p.sched.Schedule(ctx, Job{Reference: lt.Reference}, 0); err != nil {
			if p.metrics != nil {
				p.metrics.QueuePublishErrors.Inc()
			}
			return n, err
		}
		n++
	}
	if p.metrics != nil {
		p.metrics.DepositsRequeued.Add(float64(n))
	}
	if n > 0 {
		p.log.Info().Int("count", n).Msg("re-scheduled stale deposits")
	}
	return n, nil
}

func (p *Pipeline) countIngest(outcome string) {
	if p.metrics != nil {
		p.metrics.DepositsIngested.WithLabelValues(outcome).Inc()
	}
}
