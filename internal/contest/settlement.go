package contest

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ledger"
	"CricLedger/internal/observability"
	"CricLedger/internal/store"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Winner is one ranked result reported by the match collaborator.
type Winner struct {
	Owner uuid.UUID `json:"owner_id"`
	Rank  int       `json:"rank"`
}

// PayoutLine is the credited result for one winning entry.
type PayoutLine struct {
	EntryID uuid.UUID       `json:"entry_id"`
	Owner   uuid.UUID       `json:"owner_id"`
	Rank    int             `json:"rank"`
	Amount  decimal.Decimal `json:"amount"`
}

// Settlement is the committed outcome of Settle.
type Settlement struct {
	Contest    domain.Contest  `json:"contest"`
	Pool       decimal.Decimal `json:"pool"`
	Commission decimal.Decimal `json:"commission"`
	Payouts    []PayoutLine    `json:"payouts"`
}

// SettlementEngine distributes a contest pool to its winners.
type SettlementEngine struct {
	ledger  *ledger.Ledger
	events  event.Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewSettlementEngine(l *ledger.Ledger, events event.Publisher, log zerolog.Logger, metrics *observability.Metrics) *SettlementEngine {
	if events == nil {
		events = event.Nop{}
	}
	return &SettlementEngine{ledger: l, events: events, log: log, metrics: metrics}
}

// PayoutReference is the journal reference of the payout for one entry.
func PayoutReference(contestID, entryID uuid.UUID) string {
	return fmt.Sprintf("payout:%s:%s", contestID, entryID)
}

// Settle pays the winners and marks the contest settled, all in one unit of
// work. The status check and the flip to settled happen under the contest
// row lock, so a second call fails with ErrAlreadySettled and changes
// nothing. An open contest is closed first; a scheduled one cannot settle.
func (e *SettlementEngine) Settle(ctx context.Context, contestID uuid.UUID, winners []Winner) (Settlement, error) {
	var out Settlement
	err := e.ledger.InTx(ctx, "contest_settle", func(tx store.Tx) error {
		out = Settlement{}

		c, err := tx.LockContest(ctx, contestID)
		if err != nil {
			return err
		}
		switch c.Status {
		case domain.ContestStatusSettled:
			return domain.Errorf(domain.ErrAlreadySettled, "contest %s settled at %v", contestID, c.SettledAt)
		case domain.ContestStatusScheduled:
			return domain.Errorf(domain.ErrValidation, "contest %s was never opened", contestID)
		case domain.ContestStatusOpen:
			if err := c.Advance(domain.ContestStatusClosed); err != nil {
				return err
			}
		}

		entries, err := tx.ListEntries(ctx, contestID)
		if err != nil {
			return err
		}
		if len(entries) != c.EntryCount {
			return domain.Errorf(domain.ErrIntegrityViolation,
				"contest %s: entry_count %d but %d entries stored", contestID, c.EntryCount, len(entries))
		}

		picked, err := assignEntries(entries, winners)
		if err != nil {
			return err
		}
		ranks := make([]int, len(winners))
		for i, w := range winners {
			ranks[i] = w.Rank
		}

		pool := c.EntryFee.Mul(decimal.NewFromInt(int64(c.EntryCount)))
		dist, err := ComputePayouts(pool, c.CommissionPct, c.PrizeStructure, ranks)
		if err != nil {
			return err
		}

		lines := make([]PayoutLine, len(picked))
		for i, en := range picked {
			lines[i] = PayoutLine{EntryID: en.ID, Owner: en.Owner, Rank: ranks[i], Amount: dist.Amounts[i]}
		}

		// Wallets are locked in owner order after the contest row.
		order := make([]int, len(lines))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return lines[order[a]].Owner.String() < lines[order[b]].Owner.String()
		})

		for _, i := range order {
			line := lines[i]
			if line.Amount.IsPositive() {
				if _, err := e.ledger.ApplyCredit(ctx, tx, ledger.Posting{
					Owner:     line.Owner,
					Bucket:    domain.BucketWinning,
					Amount:    line.Amount,
					Kind:      domain.TxKindPayoutCredit,
					Reference: PayoutReference(contestID, line.EntryID),
					Metadata:  domain.Metadata{"contest_id": contestID.String(), "rank": line.Rank},
				}); err != nil {
					return err
				}
			}
			if err := tx.SetEntryResult(ctx, line.EntryID, line.Rank, line.Amount); err != nil {
				return err
			}
		}

		if err := c.Advance(domain.ContestStatusSettled); err != nil {
			return err
		}
		now := e.ledger.Now()
		c.SettledAt = &now
		if err := tx.UpdateContest(ctx, c); err != nil {
			return err
		}

		out = Settlement{Contest: c, Pool: dist.Pool, Commission: dist.Commission, Payouts: lines}
		return nil
	})
	e.countSettle(err, len(out.Payouts))
	if err != nil {
		return Settlement{}, err
	}

	e.log.Info().
		Str("contest_id", contestID.String()).
		Str("pool", out.Pool.String()).
		Str("commission", out.Commission.String()).
		Int("winners", len(out.Payouts)).
		Msg("contest settled")

	paid := make([]event.WinnerPayout, len(out.Payouts))
	for i, l := range out.Payouts {
		paid[i] = event.WinnerPayout{EntryID: l.EntryID, Owner: l.Owner, Rank: l.Rank, Payout: l.Amount}
	}
	event.Emit(ctx, e.events, e.log, event.New(event.TypeContestSettled, contestID.String(), *out.Contest.SettledAt, event.ContestSettled{
		ContestID:  contestID,
		Pool:       out.Pool,
		Commission: out.Commission,
		Winners:    paid,
	}))
	return out, nil
}

// assignEntries maps each winner to one of the owner's entries, in join
// order. An owner can win at most once per entry they hold.
func assignEntries(entries []domain.Entry, winners []Winner) ([]domain.Entry, error) {
	byOwner := make(map[uuid.UUID][]domain.Entry)
	for _, en := range entries {
		if en.WinnerRank != nil {
			return nil, domain.Errorf(domain.ErrIntegrityViolation, "entry %s already ranked before settlement", en.ID)
		}
		byOwner[en.Owner] = append(byOwner[en.Owner], en)
	}

	picked := make([]domain.Entry, len(winners))
	for i, w := range winners {
		if w.Rank < 1 {
			return nil, domain.Errorf(domain.ErrValidation, "winner %s: rank must be >= 1", w.Owner)
		}
		free := byOwner[w.Owner]
		if len(free) == 0 {
			return nil, domain.Errorf(domain.ErrValidation, "winner %s holds no unranked entry in this contest", w.Owner)
		}
		picked[i] = free[0]
		byOwner[w.Owner] = free[1:]
	}
	return picked, nil
}

func (e *SettlementEngine) countSettle(err error, winners int) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err).String()
	} else {
		e.metrics.SettlementWinners.Observe(float64(winners))
	}
	e.metrics.ContestSettlements.WithLabelValues(outcome).Inc()
}
