package contest

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ledger"
	"CricLedger/internal/observability"
	"CricLedger/internal/store"
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// entryBuckets is the order an entry fee is drawn in.
var entryBuckets = []domain.Bucket{domain.BucketBonus, domain.BucketDeposit}

// EntryManager debits entry fees and records entries.
type EntryManager struct {
	ledger  *ledger.Ledger
	events  event.Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEntryManager(l *ledger.Ledger, events event.Publisher, log zerolog.Logger, metrics *observability.Metrics) *EntryManager {
	if events == nil {
		events = event.Nop{}
	}
	return &EntryManager{ledger: l, events: events, log: log, metrics: metrics}
}

// Join enters owner into an open contest. The fee is drawn from the bonus
// bucket first and the deposit bucket for the rest; if the two together are
// short nothing is written and ErrInsufficientFunds is returned.
func (m *EntryManager) Join(ctx context.Context, contestID, owner uuid.UUID) (domain.Entry, error) {
	return m.join(ctx, contestID, owner, false)
}

// ForceJoin is the admin path. It skips the open-status gate only: capacity,
// the per-user entry limit and the fee still apply, and a settled contest
// cannot be joined.
func (m *EntryManager) ForceJoin(ctx context.Context, contestID, owner uuid.UUID) (domain.Entry, error) {
	return m.join(ctx, contestID, owner, true)
}

func (m *EntryManager) join(ctx context.Context, contestID, owner uuid.UUID, forced bool) (domain.Entry, error) {
	if owner == uuid.Nil {
		return domain.Entry{}, domain.Errorf(domain.ErrValidation, "owner is required")
	}
	op := "contest_join"
	if forced {
		op = "contest_force_join"
	}

	var entry domain.Entry
	err := m.ledger.InTx(ctx, op, func(tx store.Tx) error {
		c, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		switch {
		case c.Status == domain.ContestStatusSettled:
			return domain.Errorf(domain.ErrValidation, "contest %s is settled", contestID)
		case !forced && c.Status != domain.ContestStatusOpen:
			return domain.Errorf(domain.ErrValidation, "contest %s is %s, not open", contestID, c.Status)
		case !forced && c.EntryDeadline != nil && !m.ledger.Now().Before(*c.EntryDeadline):
			return domain.Errorf(domain.ErrValidation, "contest %s entry deadline has passed", contestID)
		}
		if c.EntryCount >= c.MaxPlayers {
			return domain.Errorf(domain.ErrContestFull, "contest %s has %d/%d entries", contestID, c.EntryCount, c.MaxPlayers)
		}

		n, err := tx.CountOwnerEntries(ctx, contestID, owner)
		if err != nil {
			return err
		}
		if n >= c.MaxEntriesPerUser {
			return domain.Errorf(domain.ErrAlreadyJoined, "owner %s has %d entries in contest %s", owner, n, contestID)
		}

		entry = domain.Entry{
			ID:        uuid.New(),
			ContestID: contestID,
			Owner:     owner,
			EntryNo:   n + 1,
			Amount:    c.EntryFee,
			CreatedAt: m.ledger.Now(),
		}

		if c.EntryFee.IsPositive() {
			_, split, err := m.ledger.ApplyDebitSplit(ctx, tx, owner, c.EntryFee, entryBuckets,
				domain.TxKindEntryDebit, "entry:"+entry.ID.String(),
				domain.Metadata{"contest_id": contestID.String(), "entry_no": entry.EntryNo})
			if err != nil {
				return err
			}
			entry.BonusPart = split[domain.BucketBonus]
			entry.DepositPart = split[domain.BucketDeposit]
		} else if _, err := tx.GetWallet(ctx, owner); err != nil {
			return err
		}

		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		c.EntryCount++
		return tx.UpdateContest(ctx, c)
	})
	m.countJoin(err)
	if err != nil {
		return domain.Entry{}, err
	}

	m.log.Info().
		Str("contest_id", contestID.String()).
		Str("owner", owner.String()).
		Int("entry_no", entry.EntryNo).
		Bool("forced", forced).
		Msg("contest joined")
	event.Emit(ctx, m.events, m.log, event.New(event.TypeEntryCreated, entry.ID.String(), entry.CreatedAt, event.EntryCreated{
		ContestID:   contestID,
		EntryID:     entry.ID,
		Owner:       owner,
		EntryNo:     entry.EntryNo,
		BonusPart:   entry.BonusPart,
		DepositPart: entry.DepositPart,
		Forced:      forced,
	}))
	return entry, nil
}

func (m *EntryManager) countJoin(err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err).String()
	}
	m.metrics.ContestJoins.WithLabelValues(outcome).Inc()
}
