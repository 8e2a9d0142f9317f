package persistence

import (
	"CricLedger/internal/domain"
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const contestColumns = `id, match_ref, title, entry_fee, max_players, max_entries_per_user, commission_pct,
	prize_structure, status, entry_count, entry_deadline, settled_at, created_at`

func scanContest(row rowScanner) (domain.Contest, error) {
	var (
		c                 domain.Contest
		deadline, settled sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.MatchRef, &c.Title, &c.EntryFee, &c.MaxPlayers, &c.MaxEntriesPerUser,
		&c.CommissionPct, &c.PrizeStructure, &c.Status, &c.EntryCount, &deadline, &settled, &c.CreatedAt,
	)
	c.EntryDeadline = timePtr(deadline)
	c.SettledAt = timePtr(settled)
	return c, err
}

func (t *pgTx) InsertContest(ctx context.Context, c domain.Contest) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO contests (`+contestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.MatchRef, c.Title, c.EntryFee, c.MaxPlayers, c.MaxEntriesPerUser, c.CommissionPct,
		c.PrizeStructure, c.Status, c.EntryCount, nullTime(c.EntryDeadline), nullTime(c.SettledAt), c.CreatedAt,
	)
	return mapError("insert contest "+c.ID.String(), err)
}

func (t *pgTx) GetContest(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	c, err := scanContest(t.tx.QueryRowContext(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1`, id))
	if err != nil {
		return domain.Contest{}, mapError("get contest "+id.String(), err)
	}
	return c, nil
}

func (t *pgTx) LockContest(ctx context.Context, id uuid.UUID) (domain.Contest, error) {
	c, err := scanContest(t.tx.QueryRowContext(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Contest{}, mapError("lock contest "+id.String(), err)
	}
	return c, nil
}

func (t *pgTx) UpdateContest(ctx context.Context, c domain.Contest) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE contests SET status = $2, entry_count = $3, settled_at = $4
		WHERE id = $1`,
		c.ID, c.Status, c.EntryCount, nullTime(c.SettledAt),
	)
	return rowsAffected("update contest "+c.ID.String(), res, err)
}

func (t *pgTx) ListExpiredOpenContests(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM contests
		WHERE status = 'open' AND entry_deadline IS NOT NULL AND entry_deadline <= $1
		ORDER BY entry_deadline
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, mapError("list expired contests", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan expired contest", err)
		}
		ids = append(ids, id)
	}
	return ids, mapError("list expired contests", rows.Err())
}

const entryColumns = `id, contest_id, owner_id, entry_no, amount, bonus_part, deposit_part, winner_rank, payout, created_at`

func scanEntry(row rowScanner) (domain.Entry, error) {
	var (
		e    domain.Entry
		rank sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &e.ContestID, &e.Owner, &e.EntryNo, &e.Amount, &e.BonusPart,
		&e.DepositPart, &rank, &e.Payout, &e.CreatedAt,
	)
	if rank.Valid {
		r := int(rank.Int64)
		e.WinnerRank = &r
	}
	return e, err
}

func (t *pgTx) InsertEntry(ctx context.Context, e domain.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (id, contest_id, owner_id, entry_no, amount, bonus_part, deposit_part, created_at, max_entries)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, c.max_entries_per_user
		FROM contests c
		WHERE c.id = $2`,
		e.ID, e.ContestID, e.Owner, e.EntryNo, e.Amount, e.BonusPart, e.DepositPart, e.CreatedAt,
	)
	return rowsAffected("insert entry", res, err)
}

func (t *pgTx) ListEntries(ctx context.Context, contestID uuid.UUID) ([]domain.Entry, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE contest_id = $1 ORDER BY created_at, id`,
		contestID,
	)
	if err != nil {
		return nil, mapError("list entries", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapError("scan entry", err)
		}
		out = append(out, e)
	}
	return out, mapError("list entries", rows.Err())
}

func (t *pgTx) CountOwnerEntries(ctx context.Context, contestID, owner uuid.UUID) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE contest_id = $1 AND owner_id = $2`,
		contestID, owner,
	).Scan(&n); err != nil {
		return 0, mapError("count owner entries", err)
	}
	return n, nil
}

// SetEntryResult records the rank and payout of an entry. Each entry is
// ranked at most once.
func (t *pgTx) SetEntryResult(ctx context.Context, entryID uuid.UUID, rank int, payout decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE entries SET winner_rank = $2, payout = $3 WHERE id = $1 AND winner_rank IS NULL`,
		entryID, rank, payout,
	)
	return rowsAffected("set entry result "+entryID.String(), res, err)
}
