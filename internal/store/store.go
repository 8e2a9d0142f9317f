// Package store defines the unit-of-work boundary every ledger-mutating
// operation runs through. Implementations: persistence.PostgresStore
// (production) and memory.Store (tests, local development).
package store

import (
	"CricLedger/internal/domain"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store runs fn inside one atomic unit of work. If fn returns an error, or
// the commit fails, nothing fn wrote is visible afterwards.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work.
// Lock* methods take an exclusive row lock held until the unit of work ends
// and fail with domain.ErrConcurrencyConflict when the bounded lock wait
// expires. Missing rows yield domain.ErrNotFound.
type Tx interface {
	// Wallets
	CreateWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error)
	GetWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error)
	LockWallet(ctx context.Context, owner uuid.UUID) (domain.Wallet, error)
	SaveWallet(ctx context.Context, w domain.Wallet) error

	// Ledger transactions. InsertTransaction fails with
	// domain.ErrDuplicateEvent when the reference already exists.
	InsertTransaction(ctx context.Context, t domain.LedgerTransaction) error
	GetTransactionByReference(ctx context.Context, reference string) (domain.LedgerTransaction, error)
	LockTransactionByReference(ctx context.Context, reference string) (domain.LedgerTransaction, error)
	UpdateTransaction(ctx context.Context, t domain.LedgerTransaction) error
	ListStalePending(ctx context.Context, kind domain.TxKind, olderThan time.Time, limit int) ([]domain.LedgerTransaction, error)

	// Contests and entries. UpdateContest fails with domain.ErrContestFull
	// when EntryCount exceeds MaxPlayers; InsertEntry fails with
	// domain.ErrAlreadyJoined on a duplicate (contest, owner, entry_no) or
	// when entry_no exceeds the contest's MaxEntriesPerUser.
	InsertContest(ctx context.Context, c domain.Contest) error
	GetContest(ctx context.Context, id uuid.UUID) (domain.Contest, error)
	LockContest(ctx context.Context, id uuid.UUID) (domain.Contest, error)
	UpdateContest(ctx context.Context, c domain.Contest) error
	ListExpiredOpenContests(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	InsertEntry(ctx context.Context, e domain.Entry) error
	ListEntries(ctx context.Context, contestID uuid.UUID) ([]domain.Entry, error)
	CountOwnerEntries(ctx context.Context, contestID, owner uuid.UUID) (int, error)
	SetEntryResult(ctx context.Context, entryID uuid.UUID, rank int, payout decimal.Decimal) error

	// Withdrawals
	InsertWithdrawal(ctx context.Context, w domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error)
	LockWithdrawal(ctx context.Context, id uuid.UUID) (domain.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w domain.WithdrawalRequest) error
}
