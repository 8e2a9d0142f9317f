package persistence

import (
	"CricLedger/internal/domain"
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const walletColumns = `owner_id, deposit_balance, bonus_balance, winning_balance, held_balance, created_at, updated_at`

func scanWallet(row rowScanner) (domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.Owner, &w.DepositBalance, &w.BonusBalance, &w.WinningBalance,
		&w.HeldBalance, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

func (t *pgTx) CreateWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallets (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`,
		owner,
	); err != nil {
		return domain.Wallet{}, mapError("create wallet", err)
	}
	return t.GetWallet(ctx, owner)
}

func (t *pgTx) GetWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, owner))
	if err != nil {
		return domain.Wallet{}, mapError("get wallet "+owner.String(), err)
	}
	return w, nil
}

func (t *pgTx) LockWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 FOR UPDATE`, owner))
	if err != nil {
		return domain.Wallet{}, mapError("lock wallet "+owner.String(), err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w domain.Wallet) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE wallets
		SET deposit_balance = $2, bonus_balance = $3, winning_balance = $4,
		    held_balance = $5, updated_at = NOW()
		WHERE owner_id = $1`,
		w.Owner, w.DepositBalance, w.BonusBalance, w.WinningBalance, w.HeldBalance,
	)
	return rowsAffected("save wallet "+w.Owner.String(), res, err)
}

const txColumns = `id, owner_id, reference, kind, bucket, amount, status, confirmations, metadata, created_at, processed_at`

func scanTransaction(row rowScanner) (domain.LedgerTransaction, error) {
	var (
		lt        domain.LedgerTransaction
		processed sql.NullTime
	)
	err := row.Scan(
		&lt.ID, &lt.Owner, &lt.Reference, &lt.Kind, &lt.Bucket, &lt.Amount,
		&lt.Status, &lt.Confirmations, &lt.Metadata, &lt.CreatedAt, &processed,
	)
	lt.ProcessedAt = timePtr(processed)
	return lt, err
}

func (t *pgTx) InsertTransaction(ctx context.Context, lt domain.LedgerTransaction) error {
	if lt.CreatedAt.IsZero() {
		lt.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		lt.ID, lt.Owner, lt.Reference, lt.Kind, lt.Bucket, lt.Amount,
		lt.Status, lt.Confirmations, lt.Metadata, lt.CreatedAt, nullTime(lt.ProcessedAt),
	)
	return mapError("insert transaction "+lt.Reference, err)
}

func (t *pgTx) GetTransactionByReference(ctx context.Context, reference string) (domain.LedgerTransaction, error) {
	lt, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM ledger_transactions WHERE reference = $1`, reference))
	if err != nil {
		return domain.LedgerTransaction{}, mapError("get transaction "+reference, err)
	}
	return lt, nil
}

func (t *pgTx) LockTransactionByReference(ctx context.Context, reference string) (domain.LedgerTransaction, error) {
	lt, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM ledger_transactions WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		return domain.LedgerTransaction{}, mapError("lock transaction "+reference, err)
	}
	return lt, nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, lt domain.LedgerTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET owner_id = $2, status = $3, confirmations = $4, metadata = $5, processed_at = $6
		WHERE id = $1 AND reference = $7`,
		lt.ID, lt.Owner, lt.Status, lt.Confirmations, lt.Metadata, nullTime(lt.ProcessedAt), lt.Reference,
	)
	return rowsAffected("update transaction "+lt.Reference, res, err)
}

func (t *pgTx) ListStalePending(ctx context.Context, kind domain.TxKind, olderThan time.Time, limit int) ([]domain.LedgerTransaction, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+txColumns+` FROM ledger_transactions
		WHERE kind = $1 AND status = 'pending' AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		kind, olderThan, limit,
	)
	if err != nil {
		return nil, mapError("list stale pending", err)
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		lt, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError("scan stale pending", err)
		}
		out = append(out, lt)
	}
	return out, mapError("list stale pending", rows.Err())
}
