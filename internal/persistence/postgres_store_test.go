package persistence_test

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/persistence"
	"CricLedger/internal/store"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var walletCols = []string{
	"owner_id", "deposit_balance", "bonus_balance", "winning_balance", "held_balance", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*persistence.PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := persistence.NewPostgresStore(db,
		persistence.WithLockTimeout(1500*time.Millisecond),
		persistence.WithStatementTimeout(5*time.Second),
	)
	return s, mock
}

func expectBegin(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '1500ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout = '5000ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func checkExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// =============================================================================
// Unit of work
// =============================================================================

func TestWithinTx_LockMutateCommit(t *testing.T) {
	s, mock := newMockStore(t)
	owner := uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	expectBegin(mock)
	mock.ExpectQuery(`SELECT .+ FROM wallets WHERE owner_id = \$1 FOR UPDATE`).
		WithArgs(owner.String()).
		WillReturnRows(sqlmock.NewRows(walletCols).
			AddRow(owner.String(), "10.50000000", "2", "0", "0", now, now))
	mock.ExpectExec(`UPDATE wallets`).
		WithArgs(owner.String(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		w, err := tx.LockWallet(context.Background(), owner)
		if err != nil {
			return err
		}
		if !w.DepositBalance.Equal(decimal.RequireFromString("10.5")) {
			t.Errorf("deposit balance = %s, want 10.5", w.DepositBalance)
		}
		if err := w.Debit(domain.BucketDeposit, decimal.NewFromInt(3)); err != nil {
			return err
		}
		return tx.SaveWallet(context.Background(), w)
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	checkExpectations(t, mock)
}

func TestWithinTx_FnErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	expectBegin(mock)
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(store.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	checkExpectations(t, mock)
}

func TestWithinTx_CommitFailureIsReported(t *testing.T) {
	s, mock := newMockStore(t)

	expectBegin(mock)
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	err := s.WithinTx(context.Background(), func(store.Tx) error { return nil })
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want ErrConcurrencyConflict", err)
	}
	checkExpectations(t, mock)
}

// =============================================================================
// Error mapping
// =============================================================================

func TestLockTimeoutIsConcurrencyConflict(t *testing.T) {
	s, mock := newMockStore(t)
	owner := uuid.New()

	expectBegin(mock)
	mock.ExpectQuery(`FROM wallets WHERE owner_id = \$1 FOR UPDATE`).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockWallet(context.Background(), owner)
		return err
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("err = %v, want ErrConcurrencyConflict", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("lock timeout should be retryable")
	}
	checkExpectations(t, mock)
}

func TestMissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	expectBegin(mock)
	mock.ExpectQuery(`FROM wallets WHERE owner_id = \$1`).WillReturnRows(sqlmock.NewRows(walletCols))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetWallet(context.Background(), uuid.New())
		return err
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	checkExpectations(t, mock)
}

func TestSaveWalletNoRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	expectBegin(mock)
	mock.ExpectExec(`UPDATE wallets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.SaveWallet(context.Background(), domain.Wallet{Owner: uuid.New()})
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	checkExpectations(t, mock)
}

func TestConstraintViolationsMapToDomainErrors(t *testing.T) {
	contestID := uuid.New()
	owner := uuid.New()

	tests := []struct {
		name    string
		pattern string
		pqErr   *pq.Error
		op      func(tx store.Tx) error
		want    error
	}{
		{
			name:    "duplicate reference",
			pattern: `INSERT INTO ledger_transactions`,
			pqErr:   &pq.Error{Code: "23505", Constraint: "ledger_transactions_reference_key"},
			op: func(tx store.Tx) error {
				return tx.InsertTransaction(context.Background(), domain.LedgerTransaction{
					ID: uuid.New(), Reference: "dep-1", Kind: domain.TxKindDeposit,
					Bucket: domain.BucketDeposit, Amount: decimal.NewFromInt(1), Status: domain.TxStatusPending,
				})
			},
			want: domain.ErrDuplicateEvent,
		},
		{
			name:    "duplicate entry",
			pattern: `INSERT INTO entries`,
			pqErr:   &pq.Error{Code: "23505", Constraint: "entries_contest_owner_entry_key"},
			op: func(tx store.Tx) error {
				return tx.InsertEntry(context.Background(), domain.Entry{ID: uuid.New(), ContestID: contestID, Owner: owner, EntryNo: 1})
			},
			want: domain.ErrAlreadyJoined,
		},
		{
			name:    "entry over per-owner limit",
			pattern: `INSERT INTO entries`,
			pqErr:   &pq.Error{Code: "23514", Constraint: "entries_entry_no_within_limit"},
			op: func(tx store.Tx) error {
				return tx.InsertEntry(context.Background(), domain.Entry{ID: uuid.New(), ContestID: contestID, Owner: owner, EntryNo: 2})
			},
			want: domain.ErrAlreadyJoined,
		},
		{
			name:    "entry count over capacity",
			pattern: `UPDATE contests`,
			pqErr:   &pq.Error{Code: "23514", Constraint: "contests_entry_count_max"},
			op: func(tx store.Tx) error {
				return tx.UpdateContest(context.Background(), domain.Contest{ID: contestID, Status: domain.ContestStatusOpen, EntryCount: 3})
			},
			want: domain.ErrContestFull,
		},
		{
			name:    "negative balance",
			pattern: `UPDATE wallets`,
			pqErr:   &pq.Error{Code: "23514", Constraint: "wallets_deposit_nonneg"},
			op: func(tx store.Tx) error {
				return tx.SaveWallet(context.Background(), domain.Wallet{Owner: owner})
			},
			want: domain.ErrIntegrityViolation,
		},
		{
			name:    "unknown wallet",
			pattern: `INSERT INTO withdrawals`,
			pqErr:   &pq.Error{Code: "23503", Constraint: "withdrawals_owner_id_fkey"},
			op: func(tx store.Tx) error {
				return tx.InsertWithdrawal(context.Background(), domain.WithdrawalRequest{
					ID: uuid.New(), Owner: owner, Amount: decimal.NewFromInt(5), Address: "addr", Status: domain.WithdrawalStatusRequested,
				})
			},
			want: domain.ErrNotFound,
		},
		{
			name:    "statement timeout",
			pattern: `SELECT COUNT`,
			pqErr:   &pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"},
			op: func(tx store.Tx) error {
				_, err := tx.CountOwnerEntries(context.Background(), contestID, owner)
				return err
			},
			want: domain.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			expectBegin(mock)
			if tt.pattern == `SELECT COUNT` {
				mock.ExpectQuery(tt.pattern).WillReturnError(tt.pqErr)
			} else {
				mock.ExpectExec(tt.pattern).WillReturnError(tt.pqErr)
			}
			mock.ExpectRollback()

			err := s.WithinTx(context.Background(), tt.op)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			checkExpectations(t, mock)
		})
	}
}

func TestInsertEntryCopiesContestLimit(t *testing.T) {
	s, mock := newMockStore(t)
	e := domain.Entry{ID: uuid.New(), ContestID: uuid.New(), Owner: uuid.New(), EntryNo: 1, Amount: decimal.NewFromInt(2), DepositPart: decimal.NewFromInt(2)}

	expectBegin(mock)
	mock.ExpectExec(`INSERT INTO entries \(.+, max_entries\)\s+SELECT .+, c\.max_entries_per_user\s+FROM contests c\s+WHERE c\.id = \$2`).
		WithArgs(e.ID, e.ContestID, e.Owner, e.EntryNo, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertEntry(context.Background(), e)
	}); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	checkExpectations(t, mock)
}

func TestInsertEntryUnknownContestIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	expectBegin(mock)
	mock.ExpectExec(`INSERT INTO entries`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertEntry(context.Background(), domain.Entry{ID: uuid.New(), ContestID: uuid.New(), Owner: uuid.New(), EntryNo: 1})
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	checkExpectations(t, mock)
}

// =============================================================================
// Row decoding
// =============================================================================

func TestGetTransactionDecodesColumns(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	owner := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	expectBegin(mock)
	mock.ExpectQuery(`FROM ledger_transactions WHERE reference = \$1`).
		WithArgs("chain:0xabc").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "owner_id", "reference", "kind", "bucket", "amount", "status",
			"confirmations", "metadata", "created_at", "processed_at",
		}).AddRow(id.String(), owner.String(), "chain:0xabc", "deposit", "deposit", "25.00000000",
			"credited", 12, []byte(`{"user_id":"`+owner.String()+`"}`), now, now))
	mock.ExpectCommit()

	var got domain.LedgerTransaction
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		got, err = tx.GetTransactionByReference(context.Background(), "chain:0xabc")
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if got.ID != id || !got.Owner.Valid || got.Owner.UUID != owner {
		t.Errorf("ids = %s/%v, want %s/%s", got.ID, got.Owner, id, owner)
	}
	if got.Kind != domain.TxKindDeposit || got.Status != domain.TxStatusCredited {
		t.Errorf("kind/status = %s/%s", got.Kind, got.Status)
	}
	if got.Confirmations != 12 || !got.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("confirmations/amount = %d/%s", got.Confirmations, got.Amount)
	}
	if got.Metadata.StringValue("user_id") != owner.String() {
		t.Errorf("metadata user_id = %q", got.Metadata.StringValue("user_id"))
	}
	if got.ProcessedAt == nil || !got.ProcessedAt.Equal(now) {
		t.Errorf("processed_at = %v", got.ProcessedAt)
	}
	checkExpectations(t, mock)
}

func TestListEntriesDecodesNullableResult(t *testing.T) {
	s, mock := newMockStore(t)
	contestID := uuid.New()
	now := time.Now().UTC()

	cols := []string{"id", "contest_id", "owner_id", "entry_no", "amount", "bonus_part",
		"deposit_part", "winner_rank", "payout", "created_at"}
	expectBegin(mock)
	mock.ExpectQuery(`FROM entries WHERE contest_id = \$1`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.NewString(), contestID.String(), uuid.NewString(), 1, "10", "4", "6", nil, nil, now).
			AddRow(uuid.NewString(), contestID.String(), uuid.NewString(), 1, "10", "0", "10", 1, "85.5", now))
	mock.ExpectCommit()

	var entries []domain.Entry
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		entries, err = tx.ListEntries(context.Background(), contestID)
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].WinnerRank != nil || entries[0].Payout.Valid {
		t.Errorf("first entry should be unranked: %+v", entries[0])
	}
	if entries[1].WinnerRank == nil || *entries[1].WinnerRank != 1 {
		t.Errorf("second entry rank = %v, want 1", entries[1].WinnerRank)
	}
	if !entries[1].Payout.Valid || !entries[1].Payout.Decimal.Equal(decimal.RequireFromString("85.5")) {
		t.Errorf("second entry payout = %v", entries[1].Payout)
	}
	checkExpectations(t, mock)
}
