// Package contest runs the contest lifecycle: creation, entry, cutoff and
// settlement. Every balance change goes through the ledger inside the same
// unit of work that changes the contest row, and the contest row is always
// locked before any wallet.
package contest

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/event"
	"CricLedger/internal/ledger"
	"CricLedger/internal/money"
	"CricLedger/internal/observability"
	"CricLedger/internal/store"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// NewContest is the admin input for CreateContest.
type NewContest struct {
	ID                uuid.UUID             `json:"id"`
	MatchRef          string                `json:"match_ref"`
	Title             string                `json:"title"`
	EntryFee          decimal.Decimal       `json:"entry_fee"`
	MaxPlayers        int                   `json:"max_players"`
	MaxEntriesPerUser int                   `json:"max_entries_per_user"`
	CommissionPct     decimal.Decimal       `json:"commission_pct"`
	PrizeStructure    domain.PrizeStructure `json:"prize_structure"`
	EntryDeadline     *time.Time            `json:"entry_deadline,omitempty"`
	// Open creates the contest directly in the open status.
	Open bool `json:"open"`
}

// Manager owns contest rows outside of entry and settlement.
type Manager struct {
	ledger  *ledger.Ledger
	events  event.Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewManager(l *ledger.Ledger, events event.Publisher, log zerolog.Logger, metrics *observability.Metrics) *Manager {
	if events == nil {
		events = event.Nop{}
	}
	return &Manager{ledger: l, events: events, log: log, metrics: metrics}
}

// CreateContest validates and stores a new contest.
func (m *Manager) CreateContest(ctx context.Context, in NewContest) (domain.Contest, error) {
	if strings.TrimSpace(in.MatchRef) == "" {
		return domain.Contest{}, domain.Errorf(domain.ErrValidation, "match_ref is required")
	}
	if !money.HasLedgerScale(in.EntryFee) {
		return domain.Contest{}, domain.Errorf(domain.ErrValidation, "entry fee %s has more than %d decimal places", in.EntryFee, money.Places)
	}
	if !money.HasLedgerScale(in.CommissionPct) {
		return domain.Contest{}, domain.Errorf(domain.ErrValidation, "commission pct %s has more than %d decimal places", in.CommissionPct, money.Places)
	}
	if in.MaxEntriesPerUser == 0 {
		in.MaxEntriesPerUser = 1
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}

	c := domain.Contest{
		ID:                in.ID,
		MatchRef:          in.MatchRef,
		Title:             in.Title,
		EntryFee:          in.EntryFee,
		MaxPlayers:        in.MaxPlayers,
		MaxEntriesPerUser: in.MaxEntriesPerUser,
		CommissionPct:     in.CommissionPct,
		PrizeStructure:    in.PrizeStructure,
		Status:            domain.ContestStatusScheduled,
		EntryDeadline:     in.EntryDeadline,
		CreatedAt:         m.ledger.Now(),
	}
	if in.Open {
		c.Status = domain.ContestStatusOpen
	}
	if err := c.Validate(); err != nil {
		return domain.Contest{}, err
	}

	if err := m.ledger.InTx(ctx, "contest_create", func(tx store.Tx) error {
		return tx.InsertContest(ctx, c)
	}); err != nil {
		return domain.Contest{}, err
	}

	m.log.Info().Str("contest_id", c.ID.String()).Str("match_ref", c.MatchRef).Str("status", c.Status.String()).Msg("contest created")
	event.Emit(ctx, m.events, m.log, event.New(event.TypeContestCreated, c.ID.String(), c.CreatedAt,
		event.ContestStatusChanged{ContestID: c.ID, Status: c.Status.String()}))
	return c, nil
}

// Get returns the contest.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	var c domain.Contest
	err := m.ledger.InTx(ctx, "contest_get", func(tx store.Tx) error {
		var err error
		c, err = tx.GetContest(ctx, id)
		return err
	})
	return c, err
}

// Entries lists the entries of a contest in join order.
func (m *Manager) Entries(ctx context.Context, id uuid.UUID) ([]domain.Entry, error) {
	var entries []domain.Entry
	err := m.ledger.InTx(ctx, "contest_entries", func(tx store.Tx) error {
		if _, err := tx.GetContest(ctx, id); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListEntries(ctx, id)
		return err
	})
	return entries, err
}

// Open moves a scheduled contest to open.
func (m *Manager) Open(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	return m.advance(ctx, "contest_open", id, domain.ContestStatusOpen, event.TypeContestOpened)
}

// Close moves an open contest to closed; no further joins are accepted.
func (m *Manager) Close(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	return m.advance(ctx, "contest_close", id, domain.ContestStatusClosed, event.TypeContestClosed)
}

func (m *Manager) advance(ctx context.Context, op string, id uuid.UUID, to domain.ContestStatus, et event.Type) (domain.Contest, error) {
	var c domain.Contest
	err := m.ledger.InTx(ctx, op, func(tx store.Tx) error {
		var err error
		c, err = tx.LockContest(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == domain.ContestStatusSettled {
			return domain.Errorf(domain.ErrAlreadySettled, "contest %s", id)
		}
		if err := c.Advance(to); err != nil {
			return err
		}
		return tx.UpdateContest(ctx, c)
	})
	if err != nil {
		return domain.Contest{}, err
	}
	m.log.Info().Str("contest_id", id.String()).Str("status", to.String()).Msg("contest status changed")
	event.Emit(ctx, m.events, m.log, event.New(et, id.String(), m.ledger.Now(),
		event.ContestStatusChanged{ContestID: id, Status: to.String()}))
	return c, nil
}

// CloseExpired closes open contests whose entry deadline is at or before
// now. A contest that changed status in the meantime is skipped.
func (m *Manager) CloseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	var ids []uuid.UUID
	if err := m.ledger.InTx(ctx, "contest_list_expired", func(tx store.Tx) error {
		var err error
		ids, err = tx.ListExpiredOpenContests(ctx, now, limit)
		return err
	}); err != nil {
		return 0, err
	}

	closed := 0
	for _, id := range ids {
		_, err := m.Close(ctx, id)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrAlreadySettled):
			m.log.Debug().Str("contest_id", id.String()).Err(err).Msg("contest no longer open")
		default:
			return closed, err
		}
	}
	if m.metrics != nil {
		m.metrics.ContestsClosed.Add(float64(closed))
	}
	return closed, nil
}
