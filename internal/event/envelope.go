// Package event defines the ledger events published after a unit of work
// commits. Publishing is best effort: the ledger tables remain the source of
// truth and a failed publish never rolls anything back.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type discriminates event payloads.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeWalletCreated
	TypeWalletAdjusted
	TypeDepositAccepted
	TypeDepositCredited
	TypeDepositFailed
	TypeContestCreated
	TypeContestOpened
	TypeContestClosed
	TypeEntryCreated
	TypeContestSettled
	TypeWithdrawalRequested
	TypeWithdrawalApproved
	TypeWithdrawalCompleted
	TypeWithdrawalRejected
)

func (t Type) String() string {
	switch t {
	case TypeWalletCreated:
		return "wallet.created"
	case TypeWalletAdjusted:
		return "wallet.adjusted"
	case TypeDepositAccepted:
		return "deposit.accepted"
	case TypeDepositCredited:
		return "deposit.credited"
	case TypeDepositFailed:
		return "deposit.failed"
	case TypeContestCreated:
		return "contest.created"
	case TypeContestOpened:
		return "contest.opened"
	case TypeContestClosed:
		return "contest.closed"
	case TypeEntryCreated:
		return "contest.entry_created"
	case TypeContestSettled:
		return "contest.settled"
	case TypeWithdrawalRequested:
		return "withdrawal.requested"
	case TypeWithdrawalApproved:
		return "withdrawal.approved"
	case TypeWithdrawalCompleted:
		return "withdrawal.completed"
	case TypeWithdrawalRejected:
		return "withdrawal.rejected"
	default:
		return "unknown"
	}
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// namespace for deterministic envelope ids.
var namespace = uuid.MustParse("6f1c3f5e-5b2a-4c8e-9a51-2f3c7d1e0b44")

// Envelope wraps every outbound event.
type Envelope struct {
	// ID is derived from Type and Key, so a re-published event keeps its id
	// and downstream deduplication works.
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(t Type, key string, at time.Time, payload any) Envelope {
	return Envelope{
		ID:         uuid.NewSHA1(namespace, []byte(t.String()+"|"+key)),
		Type:       t,
		Key:        key,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

// Publisher delivers envelopes to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Multi fans an envelope out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Envelope) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emit publishes e and logs, rather than returns, a failure. Callers invoke
// it only after their unit of work has committed.
func Emit(ctx context.Context, p Publisher, log zerolog.Logger, e Envelope) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", e.Type.String()).Str("key", e.Key).Msg("event publish failed")
	}
}
