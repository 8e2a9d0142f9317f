// Package withdrawal reserves funds against a withdrawal request and either
// pays them out or releases them back. The held amount leaves the held
// bucket exactly once, in the same unit of work that moves the request to a
// terminal status.
package withdrawal

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ledger"
	"CricLedger/internal/observability"
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

// DefaultSignalTimeout bounds one call to the payout collaborator.
const DefaultSignalTimeout = 5 * time.Second

// PayoutSignaler asks the payout collaborator to execute an approved
// withdrawal. Implementations must treat the withdrawal id as a dedupe key:
// the same request can be signalled more than once.
type PayoutSignaler interface {
	SignalPayout(ctx context.Context, w domain.WithdrawalRequest) error
}

// Reference helpers for the journal rows of one request.
func holdReference(id uuid.UUID) string     { return fmt.Sprintf("withdrawal:%s:hold", id) }
func completeReference(id uuid.UUID) string { return fmt.Sprintf("withdrawal:%s:complete", id) }
func releaseReference(id uuid.UUID) string  { return fmt.Sprintf("withdrawal:%s:release", id) }

type Manager struct {
	ledger        *ledger.Ledger
	signaler      PayoutSignaler
	events        event.Publisher
	log           zerolog.Logger
	metrics       *observability.Metrics
	signalTimeout time.Duration
}

func NewManager(
	l *ledger.Ledger,
	signaler PayoutSignaler,
	events event.Publisher,
	log zerolog.Logger,
	metrics *observability.Metrics,
	signalTimeout time.Duration,
) *Manager {
	if events == nil {
		events = event.Nop{}
	}
	if signalTimeout <= 0 {
		signalTimeout = DefaultSignalTimeout
	}
	return &Manager{
		ledger:        l,
		signaler:      signaler,
		events:        events,
		log:           log,
		metrics:       metrics,
		signalTimeout: signalTimeout,
	}
}

// Request moves amount from the deposit bucket to the held bucket and
// records a requested withdrawal, in one unit of work.
func (m *Manager) Request(ctx context.Context, owner uuid.UUID, amount decimal.Decimal, address string) (domain.WithdrawalRequest, error) {
	address = strings.TrimSpace(address)
	if owner == uuid.Nil {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.ErrValidation, "owner is required")
	}
	if address == "" {
		return domain.WithdrawalRequest{}, domain.Errorf(domain.ErrValidation, "destination address is required")
	}

	now := m.ledger.Now()
	w := domain.WithdrawalRequest{
		ID:        uuid.New(),
		Owner:     owner,
		Amount:    amount,
		Address:   address,
		Status:    domain.WithdrawalStatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := m.ledger.InTx(ctx, "withdrawal_request", func(tx store.Tx) error {
		if _, err := m.ledger.ApplyMove(ctx, tx, owner, domain.BucketDeposit, domain.BucketHeld, amount,
			domain.TxKindWithdrawalHold, holdReference(w.ID),
			domain.Metadata{"withdrawal_id": w.ID.String()}); err != nil {
			return err
		}
		return tx.InsertWithdrawal(ctx, w)
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	m.transitioned(ctx, event.TypeWithdrawalRequested, w)
	return w, nil
}

// Get returns the request.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := m.ledger.InTx(ctx, "withdrawal_get", func(tx store.Tx) error {
		var err error
		w, err = tx.GetWithdrawal(ctx, id)
		return err
	})
	return w, err
}

// Approve runs in two units of work. The first marks the request approved.
// The second locks the request, signals the payout collaborator and, if the
// signal succeeds, removes the held amount and marks it completed. The row
// lock is held across the signal, so a concurrent Reject either waits for
// the outcome or sees a request whose payout was never signalled. If the
// signal fails the request stays approved and a Transient error is
// returned; calling Approve again resumes at the signal.
func (m *Manager) Approve(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	var (
		w       domain.WithdrawalRequest
		changed bool
	)
	err := m.ledger.InTx(ctx, "withdrawal_approve", func(tx store.Tx) error {
		changed = false
		var err error
		w, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case w.Status.Terminal():
			return domain.Errorf(domain.ErrAlreadyTerminal, "withdrawal %s is %s", id, w.Status)
		case w.Status == domain.WithdrawalStatusApproved:
			return nil
		}
		if err := w.Advance(domain.WithdrawalStatusApproved); err != nil {
			return err
		}
		changed = true
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if changed {
		m.transitioned(ctx, event.TypeWithdrawalApproved, w)
	}

	var signalErr error
	err = m.ledger.InTx(ctx, "withdrawal_complete", func(tx store.Tx) error {
		signalErr = nil
		var err error
		w, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalStatusApproved {
			return domain.Errorf(domain.ErrAlreadyTerminal, "withdrawal %s is %s", id, w.Status)
		}
		if signalErr = m.signal(ctx, w); signalErr != nil {
			return errSignalFailed
		}
		if _, err := m.ledger.ApplyDebit(ctx, tx, ledger.Posting{
			Owner:     w.Owner,
			Bucket:    domain.BucketHeld,
			Amount:    w.Amount,
			Kind:      domain.TxKindWithdrawalRelease,
			Reference: completeReference(id),
			Metadata:  domain.Metadata{"withdrawal_id": id.String(), "outcome": "completed", "address": w.Address},
		}); err != nil {
			return err
		}
		if err := w.Advance(domain.WithdrawalStatusCompleted); err != nil {
			return err
		}
		return tx.UpdateWithdrawal(ctx, w)
	})
	if signalErr != nil {
		return w, signalErr
	}
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	m.transitioned(ctx, event.TypeWithdrawalCompleted, w)
	return w, nil
}

// errSignalFailed rolls back the completion unit of work without letting the
// ledger retry it; the Transient signal error is returned to the caller.
var errSignalFailed = errors.New("payout signal failed")

func (m *Manager) signal(ctx context.Context, w domain.WithdrawalRequest) error {
	if m.signaler == nil {
		return domain.Errorf(domain.ErrTransient, "no payout signaler configured")
	}
	sctx, cancel := context.WithTimeout(ctx, m.signalTimeout)
	defer cancel()

	if err := m.signaler.SignalPayout(sctx, w); err != nil {
		if m.metrics != nil {
			m.metrics.PayoutSignalErrors.Inc()
		}
		m.log.Warn().Err(err).Str("withdrawal_id", w.ID.String()).Msg("payout signal failed, request left approved")
		return domain.Errorf(domain.ErrTransient, "signal payout for withdrawal %s: %v", w.ID, err)
	}
	return nil
}

// Reject releases the held amount back to the deposit bucket. A requested
// request can be rejected, and so can an approved one whose payout signal
// has not gone through; completion holds the row lock while it signals.
func (m *Manager) Reject(ctx context.Context, id uuid.UUID, reason string) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := m.ledger.InTx(ctx, "withdrawal_reject", func(tx store.Tx) error {
		var err error
		w, err = tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status.Terminal() {
			return domain.Errorf(domain.ErrAlreadyTerminal, "withdrawal %s is %s", id, w.Status)
		}
		if _, err := m.ledger.ApplyMove(ctx, tx, w.Owner, domain.BucketHeld, domain.BucketDeposit, w.Amount,
			domain.TxKindWithdrawalRelease, releaseReference(id),
			domain.Metadata{"withdrawal_id": id.String(), "outcome": "rejected", "from": w.Status.String()}); err != nil {
			return err
		}
		if err := w.Advance(domain.WithdrawalStatusRejected); err != nil {
			return err
		}
		w.Reason = reason
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	m.transitioned(ctx, event.TypeWithdrawalRejected, w)
	return w, nil
}

func (m *Manager) transitioned(ctx context.Context, t event.Type, w domain.WithdrawalRequest) {
	if m.metrics != nil {
		m.metrics.WithdrawalTransitions.WithLabelValues(w.Status.String()).Inc()
	}
	m.log.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("owner", w.Owner.String()).
		Str("amount", w.Amount.String()).
		Str("status", w.Status.String()).
		Msg("withdrawal status changed")
	event.Emit(ctx, m.events, m.log, event.New(t, w.ID.String(), m.ledger.Now(), event.WithdrawalStatusChanged{
		WithdrawalID: w.ID,
		Owner:        w.Owner,
		Amount:       w.Amount,
		Address:      w.Address,
		Status:       w.Status.String(),
		Reason:       w.Reason,
	}))
}
