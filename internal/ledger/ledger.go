// Package ledger is the authoritative wallet balance store. Every balance
// change is made under an exclusive lock on the wallet row inside a store
// unit of work, and is journaled as a LedgerTransaction with a unique
// reference.
package ledger

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/money"
	"CricLedger/internal/observability"
	"CricLedger/internal/retry"
	"CricLedger/internal/store"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Posting describes one single-bucket balance change.
type Posting struct {
	Owner     uuid.UUID
	Bucket    domain.Bucket
	Amount    decimal.Decimal
	Kind      domain.TxKind
	Reference string
	Metadata  domain.Metadata

	// Recorded means the caller already owns the LedgerTransaction row for
	// Reference (deposits), so no journal row is written.
	Recorded bool
}

func (p Posting) validate() error {
	if p.Owner == uuid.Nil {
		return domain.Errorf(domain.ErrValidation, "owner is required")
	}
	if p.Bucket == domain.BucketUnknown {
		return domain.Errorf(domain.ErrValidation, "bucket is required")
	}
	if p.Kind == domain.TxKindUnknown {
		return domain.Errorf(domain.ErrValidation, "transaction kind is required")
	}
	if !p.Recorded && p.Reference == "" {
		return domain.Errorf(domain.ErrValidation, "reference is required")
	}
	return validateAmount(p.Amount)
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Errorf(domain.ErrValidation, "amount must be positive, got %s", amount)
	}
	if !money.HasLedgerScale(amount) {
		return domain.Errorf(domain.ErrValidation, "amount %s has more than %d decimal places", amount, money.Places)
	}
	return nil
}

// Receipt is the outcome of a standalone Credit or Debit.
type Receipt struct {
	Wallet      domain.Wallet
	Transaction domain.LedgerTransaction
	// Duplicate is set when Reference was already applied; nothing changed.
	Duplicate bool
}

// Ledger applies balance changes through a store.Store.
type Ledger struct {
	store   store.Store
	log     zerolog.Logger
	metrics *observability.Metrics
	policy  retry.Policy
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetryPolicy overrides retry.DefaultPolicy for conflicting units of work.
func WithRetryPolicy(p retry.Policy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithClock overrides time.Now for processed timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(s store.Store, log zerolog.Logger, metrics *observability.Metrics, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		log:     log,
		metrics: metrics,
		policy:  retry.DefaultPolicy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time { return l.now() }

// InTx runs fn as one unit of work, retrying it with bounded backoff when it
// fails with a ConcurrencyConflict. fn must not keep state across attempts
// other than through its return value.
func (l *Ledger) InTx(ctx context.Context, op string, fn func(store.Tx) error) error {
	start := time.Now()
	err := retry.Do(ctx, l.policy, l.log, op, func(ctx context.Context) error {
		return l.store.WithinTx(ctx, fn)
	})
	l.observe(op, start, err)
	return err
}

func (l *Ledger) observe(op string, start time.Time, err error) {
	if l.metrics != nil {
		l.metrics.UnitOfWorkDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return
	}

	kind := domain.KindOf(err)
	switch kind {
	case domain.KindConcurrencyConflict:
		if l.metrics != nil {
			l.metrics.LockConflicts.WithLabelValues(op).Inc()
		}
		l.log.Warn().Str("op", op).Err(err).Msg("unit of work gave up after lock conflicts")
	case domain.KindIntegrityViolation:
		if l.metrics != nil {
			l.metrics.IntegrityViolations.WithLabelValues(op).Inc()
		}
		l.log.Error().Str("op", op).Bool("alert", true).Err(err).Msg("integrity violation, unit of work aborted")
	case domain.KindInsufficientFunds, domain.KindValidation:
		if l.metrics != nil {
			l.metrics.LedgerRejections.WithLabelValues(kind.String()).Inc()
		}
	}
}

// CreateWallet creates the wallet for owner, or returns the existing one.
func (l *Ledger) CreateWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	if owner == uuid.Nil {
		return domain.Wallet{}, domain.Errorf(domain.ErrValidation, "owner is required")
	}
	var w domain.Wallet
	err := l.InTx(ctx, "create_wallet", func(tx store.Tx) error {
		var err error
		w, err = tx.CreateWallet(ctx, owner)
		return err
	})
	return w, err
}

// Wallet reads the current balances of owner.
func (l *Ledger) Wallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	var w domain.Wallet
	err := l.InTx(ctx, "get_wallet", func(tx store.Tx) error {
		var err error
		w, err = tx.GetWallet(ctx, owner)
		return err
	})
	return w, err
}

// Credit adds p.Amount to p.Bucket in its own unit of work. A reference that
// was already applied with the same owner, kind and amount is a no-op.
func (l *Ledger) Credit(ctx context.Context, p Posting) (Receipt, error) {
	return l.standalone(ctx, "credit", p, l.ApplyCredit)
}

// Debit subtracts p.Amount from p.Bucket in its own unit of work. It fails
// with ErrInsufficientFunds, and changes nothing, if the bucket is short.
func (l *Ledger) Debit(ctx context.Context, p Posting) (Receipt, error) {
	return l.standalone(ctx, "debit", p, l.ApplyDebit)
}

func (l *Ledger) standalone(
	ctx context.Context,
	op string,
	p Posting,
	apply func(context.Context, store.Tx, Posting) (domain.Wallet, error),
) (Receipt, error) {
	if p.Recorded {
		return Receipt{}, domain.Errorf(domain.ErrValidation, "standalone %s must be journaled", op)
	}
	if err := p.validate(); err != nil {
		return Receipt{}, err
	}

	rcpt, err := l.applyOnce(ctx, op, p, apply)
	if errors.Is(err, domain.ErrDuplicateEvent) {
		// A concurrent call with the same reference committed first; the
		// second pass sees its row and reports the prior outcome.
		rcpt, err = l.applyOnce(ctx, op, p, apply)
	}
	if err != nil {
		return Receipt{}, err
	}
	if rcpt.Duplicate {
		l.log.Info().Str("reference", p.Reference).Msg("posting already applied")
	}
	return rcpt, nil
}

func (l *Ledger) applyOnce(
	ctx context.Context,
	op string,
	p Posting,
	apply func(context.Context, store.Tx, Posting) (domain.Wallet, error),
) (Receipt, error) {
	var rcpt Receipt
	err := l.InTx(ctx, op, func(tx store.Tx) error {
		rcpt = Receipt{}
		prior, err := tx.GetTransactionByReference(ctx, p.Reference)
		switch {
		case err == nil:
			if !samePosting(prior, p) {
				return domain.Errorf(domain.ErrValidation, "reference %q reused with a different posting", p.Reference)
			}
			w, err := tx.GetWallet(ctx, p.Owner)
			if err != nil {
				return err
			}
			rcpt = Receipt{Wallet: w, Transaction: prior, Duplicate: true}
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		w, err := apply(ctx, tx, p)
		if err != nil {
			return err
		}
		t, err := tx.GetTransactionByReference(ctx, p.Reference)
		if err != nil {
			return err
		}
		rcpt = Receipt{Wallet: w, Transaction: t}
		return nil
	})
	return rcpt, err
}

func samePosting(t domain.LedgerTransaction, p Posting) bool {
	return t.Owner.Valid && t.Owner.UUID == p.Owner &&
		t.Kind == p.Kind && t.Bucket == p.Bucket && t.Amount.Equal(p.Amount)
}

// ApplyCredit credits p inside tx. The wallet row is locked first.
func (l *Ledger) ApplyCredit(ctx context.Context, tx store.Tx, p Posting) (domain.Wallet, error) {
	if err := p.validate(); err != nil {
		return domain.Wallet{}, err
	}
	w, err := tx.LockWallet(ctx, p.Owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	if err := w.Credit(p.Bucket, p.Amount); err != nil {
		return domain.Wallet{}, err
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}
	if err := l.journal(ctx, tx, p); err != nil {
		return domain.Wallet{}, err
	}
	l.count(p.Kind, "credit")
	return w, nil
}

// ApplyDebit debits p inside tx. The wallet row is locked first.
func (l *Ledger) ApplyDebit(ctx context.Context, tx store.Tx, p Posting) (domain.Wallet, error) {
	if err := p.validate(); err != nil {
		return domain.Wallet{}, err
	}
	w, err := tx.LockWallet(ctx, p.Owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	if err := w.Debit(p.Bucket, p.Amount); err != nil {
		return domain.Wallet{}, err
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}
	if err := l.journal(ctx, tx, p); err != nil {
		return domain.Wallet{}, err
	}
	l.count(p.Kind, "debit")
	return w, nil
}

// Split is how a multi-bucket debit was drawn.
type Split map[domain.Bucket]decimal.Decimal

// ApplyDebitSplit debits amount from owner, draining buckets in order.
// Either the whole amount is debited or, if the buckets together are short,
// nothing is and ErrInsufficientFunds is returned. One journal row is
// written per bucket drawn, with reference "<reference>:<bucket>".
func (l *Ledger) ApplyDebitSplit(
	ctx context.Context,
	tx store.Tx,
	owner uuid.UUID,
	amount decimal.Decimal,
	buckets []domain.Bucket,
	kind domain.TxKind,
	reference string,
	metadata domain.Metadata,
) (domain.Wallet, Split, error) {
	if err := validateAmount(amount); err != nil {
		return domain.Wallet{}, nil, err
	}
	if len(buckets) == 0 {
		return domain.Wallet{}, nil, domain.Errorf(domain.ErrValidation, "no buckets to debit")
	}

	w, err := tx.LockWallet(ctx, owner)
	if err != nil {
		return domain.Wallet{}, nil, err
	}

	available := decimal.Zero
	for _, b := range buckets {
		available = available.Add(w.Balance(b))
	}
	if available.LessThan(amount) {
		return domain.Wallet{}, nil, domain.Errorf(domain.ErrInsufficientFunds,
			"wallet %s: %s available across %v, need %s", owner, available, buckets, amount)
	}

	split := make(Split)
	remaining := amount
	for _, b := range buckets {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(w.Balance(b), remaining)
		if !take.IsPositive() {
			continue
		}
		if err := w.Debit(b, take); err != nil {
			return domain.Wallet{}, nil, err
		}
		split[b] = take
		remaining = remaining.Sub(take)
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return domain.Wallet{}, nil, err
	}

	for _, b := range buckets {
		part, ok := split[b]
		if !ok {
			continue
		}
		if err := l.journal(ctx, tx, Posting{
			Owner:     owner,
			Bucket:    b,
			Amount:    part,
			Kind:      kind,
			Reference: fmt.Sprintf("%s:%s", reference, b),
			Metadata:  metadata,
		}); err != nil {
			return domain.Wallet{}, nil, err
		}
		l.count(kind, "debit")
	}
	return w, split, nil
}

// ApplyMove transfers amount between two buckets of the same wallet, e.g.
// deposit -> held for a withdrawal hold. It journals one row on the
// destination bucket.
func (l *Ledger) ApplyMove(
	ctx context.Context,
	tx store.Tx,
	owner uuid.UUID,
	from, to domain.Bucket,
	amount decimal.Decimal,
	kind domain.TxKind,
	reference string,
	metadata domain.Metadata,
) (domain.Wallet, error) {
	if err := validateAmount(amount); err != nil {
		return domain.Wallet{}, err
	}
	if from == to {
		return domain.Wallet{}, domain.Errorf(domain.ErrValidation, "move within bucket %s", from)
	}

	w, err := tx.LockWallet(ctx, owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	if err := w.Debit(from, amount); err != nil {
		return domain.Wallet{}, err
	}
	if err := w.Credit(to, amount); err != nil {
		return domain.Wallet{}, err
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return domain.Wallet{}, err
	}

	md := domain.Metadata{"from": from.String(), "to": to.String()}
	for k, v := range metadata {
		md[k] = v
	}
	if err := l.journal(ctx, tx, Posting{
		Owner:     owner,
		Bucket:    to,
		Amount:    amount,
		Kind:      kind,
		Reference: reference,
		Metadata:  md,
	}); err != nil {
		return domain.Wallet{}, err
	}
	l.count(kind, "move")
	return w, nil
}

func (l *Ledger) journal(ctx context.Context, tx store.Tx, p Posting) error {
	if p.Recorded {
		return nil
	}
	now := l.now()
	return tx.InsertTransaction(ctx, domain.LedgerTransaction{
		ID:          uuid.New(),
		Owner:       uuid.NullUUID{UUID: p.Owner, Valid: true},
		Reference:   p.Reference,
		Kind:        p.Kind,
		Bucket:      p.Bucket,
		Amount:      p.Amount,
		Status:      domain.TxStatusCredited,
		Metadata:    p.Metadata,
		CreatedAt:   now,
		ProcessedAt: &now,
	})
}

func (l *Ledger) count(kind domain.TxKind, direction string) {
	if l.metrics != nil {
		l.metrics.LedgerPostings.WithLabelValues(kind.String(), direction).Inc()
	}
}
