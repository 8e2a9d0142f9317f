package ledger

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Adjustment directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Adjustment is an operator-initiated balance correction.
type Adjustment struct {
	Owner     uuid.UUID       `json:"owner_id"`
	Bucket    domain.Bucket   `json:"bucket"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason,omitempty"`
}

// Admin wraps wallet onboarding and manual adjustments with event emission.
type Admin struct {
	ledger *Ledger
	events event.Publisher
	log    zerolog.Logger
}

func NewAdmin(l *Ledger, events event.Publisher, log zerolog.Logger) *Admin {
	if events == nil {
		events = event.Nop{}
	}
	return &Admin{ledger: l, events: events, log: log}
}

// OpenWallet creates the wallet for owner, or returns the existing one.
func (a *Admin) OpenWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	w, err := a.ledger.CreateWallet(ctx, owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	event.Emit(ctx, a.events, a.log, event.New(event.TypeWalletCreated, owner.String(), a.ledger.Now(),
		event.WalletCreated{Owner: owner}))
	return w, nil
}

// Adjust credits or debits one bucket. The reference is namespaced under
// "adjust:" so it can never collide with a deposit or contest reference, and
// replaying the same adjustment is a no-op.
func (a *Admin) Adjust(ctx context.Context, adj Adjustment) (Receipt, error) {
	ref := strings.TrimSpace(adj.Reference)
	if ref == "" {
		return Receipt{}, domain.Errorf(domain.ErrValidation, "adjustment reference is required")
	}
	if adj.Bucket == domain.BucketHeld {
		return Receipt{}, domain.Errorf(domain.ErrValidation, "held balance is managed by withdrawals")
	}

	p := Posting{
		Owner:     adj.Owner,
		Bucket:    adj.Bucket,
		Amount:    adj.Amount,
		Kind:      domain.TxKindAdjustment,
		Reference: "adjust:" + ref,
		Metadata:  domain.Metadata{"direction": adj.Direction},
	}
	if adj.Reason != "" {
		p.Metadata["reason"] = adj.Reason
	}

	var (
		rcpt Receipt
		err  error
	)
	switch adj.Direction {
	case DirectionCredit:
		rcpt, err = a.ledger.Credit(ctx, p)
	case DirectionDebit:
		rcpt, err = a.ledger.Debit(ctx, p)
	default:
		return Receipt{}, domain.Errorf(domain.ErrValidation, "direction must be %q or %q", DirectionCredit, DirectionDebit)
	}
	if err != nil {
		return Receipt{}, err
	}

	if !rcpt.Duplicate {
		a.log.Info().
			Str("owner_id", adj.Owner.String()).
			Str("bucket", adj.Bucket.String()).
			Str("direction", adj.Direction).
			Str("amount", adj.Amount.String()).
			Str("reference", p.Reference).
			Msg("wallet adjusted")
		event.Emit(ctx, a.events, a.log, event.New(event.TypeWalletAdjusted, p.Reference, a.ledger.Now(),
			event.WalletAdjusted{
				Owner:     adj.Owner,
				Bucket:    adj.Bucket.String(),
				Amount:    adj.Amount,
				Direction: adj.Direction,
				Reference: p.Reference,
			}))
	}
	return rcpt, nil
}
