package query

import (
	"CricLedger/internal/domain"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit and MaxLimit bound history pages.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Service provides read-only reporting over the ledger tables. It never
// locks rows and never feeds a balance decision; reads may be a moment stale.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// TransactionHistory returns the owner's journal, newest first. before, when
// set, is an exclusive created_at cursor for the next page.
func (s *Service) TransactionHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	before *time.Time,
) ([]domain.LedgerTransaction, error) {
	query := `
		SELECT id, owner_id, reference, kind, bucket, amount, status,
		       confirmations, metadata, created_at, processed_at
		FROM ledger_transactions
		WHERE owner_id = $1
	`
	args := []any{owner}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}
	defer rows.Close()

	history := []domain.LedgerTransaction{}
	for rows.Next() {
		var (
			lt        domain.LedgerTransaction
			processed sql.NullTime
		)
		if err := rows.Scan(
			&lt.ID, &lt.Owner, &lt.Reference, &lt.Kind, &lt.Bucket, &lt.Amount,
			&lt.Status, &lt.Confirmations, &lt.Metadata, &lt.CreatedAt, &processed,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if processed.Valid {
			t := processed.Time
			lt.ProcessedAt = &t
		}
		history = append(history, lt)
	}
	return history, rows.Err()
}

// --- Admin APIs ---

// reportLimit caps the offenders listed per check.
const reportLimit = 100

// VerifyIntegrity checks the storage-level invariants that span rows:
// held balances against open withdrawals, contest entry counts against
// entry rows, and settled payouts against the pool.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{CheckedAt: time.Now().UTC()}

	heldRows, err := s.db.QueryContext(ctx, `
		SELECT w.owner_id, w.held_balance, COALESCE(SUM(r.amount), 0) AS open_amount
		FROM wallets w
		LEFT JOIN withdrawals r
		       ON r.owner_id = w.owner_id AND r.status IN ('requested', 'approved')
		GROUP BY w.owner_id, w.held_balance
		HAVING w.held_balance <> COALESCE(SUM(r.amount), 0)
		LIMIT $1
	`, reportLimit)
	if err != nil {
		return nil, fmt.Errorf("held check: %w", err)
	}
	defer heldRows.Close()
	for heldRows.Next() {
		var m HeldMismatch
		if err := heldRows.Scan(&m.Owner, &m.HeldBalance, &m.OpenWithdrawals); err != nil {
			return nil, fmt.Errorf("scan held check: %w", err)
		}
		report.HeldMismatches = append(report.HeldMismatches, m)
	}
	if err := heldRows.Err(); err != nil {
		return nil, err
	}

	countRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.entry_count, COUNT(e.id) AS stored
		FROM contests c
		LEFT JOIN entries e ON e.contest_id = c.id
		GROUP BY c.id, c.entry_count
		HAVING c.entry_count <> COUNT(e.id)
		LIMIT $1
	`, reportLimit)
	if err != nil {
		return nil, fmt.Errorf("entry count check: %w", err)
	}
	defer countRows.Close()
	for countRows.Next() {
		var m EntryCountMismatch
		if err := countRows.Scan(&m.ContestID, &m.EntryCount, &m.StoredEntries); err != nil {
			return nil, fmt.Errorf("scan entry count check: %w", err)
		}
		report.EntryCountMismatches = append(report.EntryCountMismatches, m)
	}
	if err := countRows.Err(); err != nil {
		return nil, err
	}

	payoutRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.entry_fee * c.entry_count AS pool, COALESCE(SUM(e.payout), 0) AS paid
		FROM contests c
		JOIN entries e ON e.contest_id = c.id
		WHERE c.status = 'settled'
		GROUP BY c.id, c.entry_fee, c.entry_count
		HAVING COALESCE(SUM(e.payout), 0) > c.entry_fee * c.entry_count
		LIMIT $1
	`, reportLimit)
	if err != nil {
		return nil, fmt.Errorf("payout check: %w", err)
	}
	defer payoutRows.Close()
	for payoutRows.Next() {
		var m OverpaidContest
		if err := payoutRows.Scan(&m.ContestID, &m.Pool, &m.Paid); err != nil {
			return nil, fmt.Errorf("scan payout check: %w", err)
		}
		report.OverpaidContests = append(report.OverpaidContests, m)
	}
	if err := payoutRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HeldMismatches) == 0 &&
		len(report.EntryCountMismatches) == 0 &&
		len(report.OverpaidContests) == 0
	return report, nil
}

// Totals is the sum of every wallet bucket, for reconciliation dashboards.
func (s *Service) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(deposit_balance), 0),
		       COALESCE(SUM(bonus_balance), 0),
		       COALESCE(SUM(winning_balance), 0),
		       COALESCE(SUM(held_balance), 0)
		FROM wallets
	`).Scan(&t.Wallets, &t.Deposit, &t.Bonus, &t.Winning, &t.Held)
	if err != nil {
		return Totals{}, fmt.Errorf("wallet totals: %w", err)
	}
	return t, nil
}
