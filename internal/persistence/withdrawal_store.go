package persistence

import (
	"CricLedger/internal/domain"
	"context"
	"time"

	"github.com/google/uuid"
)

const withdrawalColumns = `id, owner_id, amount, address, status, reason, created_at, updated_at`

func scanWithdrawal(row rowScanner) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := row.Scan(&w.ID, &w.Owner, &w.Amount, &w.Address, &w.Status, &w.Reason, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w domain.WithdrawalRequest) error {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.Owner, w.Amount, w.Address, w.Status, w.Reason, w.CreatedAt, now,
	)
	return mapError("insert withdrawal "+w.ID.String(), err)
}

func (t *pgTx) GetWithdrawal(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(t.tx.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return domain.WithdrawalRequest{}, mapError("get withdrawal "+id.String(), err)
	}
	return w, nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error) {
	w, err := scanWithdrawal(t.tx.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.WithdrawalRequest{}, mapError("lock withdrawal "+id.String(), err)
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w domain.WithdrawalRequest) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE withdrawals SET status = $2, reason = $3, updated_at = NOW() WHERE id = $1`,
		w.ID, w.Status, w.Reason,
	)
	return rowsAffected("update withdrawal "+w.ID.String(), res, err)
}
