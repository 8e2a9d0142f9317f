package query_test

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/query"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var txCols = []string{
	"id", "owner_id", "reference", "kind", "bucket", "amount", "status",
	"confirmations", "metadata", "created_at", "processed_at",
}

func newMockService(t *testing.T) (*query.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		db.Close()
	})
	return query.NewService(db), mock
}

// ============================================================================
// Test: TransactionHistory
// ============================================================================

func TestTransactionHistory_DecodesAndPaginates(t *testing.T) {
	s, mock := newMockService(t)
	owner := uuid.New()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	before := now.Add(time.Hour)

	mock.ExpectQuery(`FROM ledger_transactions\s+WHERE owner_id = \$1 AND created_at < \$2 ORDER BY created_at DESC, id LIMIT \$3`).
		WithArgs(owner.String(), before, query.MaxLimit).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(uuid.NewString(), owner.String(), "entry:e1:bonus", "entry-debit", "bonus", "1.00000000",
				"credited", 0, []byte(`{"contest_id":"c1"}`), now, now).
			AddRow(uuid.NewString(), owner.String(), "0xabc", "deposit", "deposit", "20.00000000",
				"pending", 3, []byte(`{}`), now.Add(-time.Minute), nil))

	history, err := s.TransactionHistory(context.Background(), owner, 10_000, &before)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len = %d, want 2", len(history))
	}
	if history[0].Kind != domain.TxKindEntryDebit || history[0].Bucket != domain.BucketBonus {
		t.Errorf("first = %s/%s", history[0].Kind, history[0].Bucket)
	}
	if history[0].Metadata.StringValue("contest_id") != "c1" {
		t.Errorf("metadata = %v", history[0].Metadata)
	}
	if history[1].Status != domain.TxStatusPending || history[1].ProcessedAt != nil {
		t.Errorf("second = %s processed=%v", history[1].Status, history[1].ProcessedAt)
	}
	if !history[1].Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("amount = %s", history[1].Amount)
	}
}

func TestTransactionHistory_DefaultLimitAndEmpty(t *testing.T) {
	s, mock := newMockService(t)
	owner := uuid.New()

	mock.ExpectQuery(`FROM ledger_transactions\s+WHERE owner_id = \$1 ORDER BY created_at DESC, id LIMIT \$2`).
		WithArgs(owner.String(), query.DefaultLimit).
		WillReturnRows(sqlmock.NewRows(txCols))

	history, err := s.TransactionHistory(context.Background(), owner, 0, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("history = %v, want empty non-nil slice", history)
	}
}

func TestTransactionHistory_UnknownStatusFailsRead(t *testing.T) {
	s, mock := newMockService(t)
	owner := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM ledger_transactions`).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(uuid.NewString(), owner.String(), "r", "deposit", "deposit", "1", "refunded", 0, []byte(`{}`), now, nil))

	if _, err := s.TransactionHistory(context.Background(), owner, 5, nil); err == nil {
		t.Fatal("unknown status string should fail the read")
	}
}

// ============================================================================
// Test: VerifyIntegrity
// ============================================================================

func TestVerifyIntegrity_Healthy(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectQuery(`FROM wallets w\s+LEFT JOIN withdrawals`).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "held_balance", "open_amount"}))
	mock.ExpectQuery(`FROM contests c\s+LEFT JOIN entries`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_count", "stored"}))
	mock.ExpectQuery(`WHERE c.status = 'settled'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pool", "paid"}))

	report, err := s.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("report = %+v, want healthy", report)
	}
}

func TestVerifyIntegrity_ReportsEveryViolation(t *testing.T) {
	s, mock := newMockService(t)
	owner := uuid.New()
	drifted := uuid.New()
	overpaid := uuid.New()

	mock.ExpectQuery(`FROM wallets w\s+LEFT JOIN withdrawals`).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "held_balance", "open_amount"}).
			AddRow(owner.String(), "15.00000000", "10.00000000"))
	mock.ExpectQuery(`FROM contests c\s+LEFT JOIN entries`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "entry_count", "stored"}).
			AddRow(drifted.String(), 3, 2))
	mock.ExpectQuery(`WHERE c.status = 'settled'`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pool", "paid"}).
			AddRow(overpaid.String(), "98.00000000", "98.00000001"))

	report, err := s.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsHealthy {
		t.Fatal("report should be unhealthy")
	}
	if len(report.HeldMismatches) != 1 || report.HeldMismatches[0].Owner != owner ||
		!report.HeldMismatches[0].HeldBalance.Equal(decimal.NewFromInt(15)) {
		t.Errorf("held mismatches = %+v", report.HeldMismatches)
	}
	if len(report.EntryCountMismatches) != 1 || report.EntryCountMismatches[0].StoredEntries != 2 {
		t.Errorf("entry count mismatches = %+v", report.EntryCountMismatches)
	}
	if len(report.OverpaidContests) != 1 || report.OverpaidContests[0].ContestID != overpaid {
		t.Errorf("overpaid = %+v", report.OverpaidContests)
	}
}

func TestTotals(t *testing.T) {
	s, mock := newMockService(t)
	mock.ExpectQuery(`FROM wallets`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "d", "b", "w", "h"}).
			AddRow(int64(3), "100", "5", "83.3", "20"))

	got, err := s.Totals(context.Background())
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if got.Wallets != 3 || !got.Winning.Equal(decimal.RequireFromString("83.3")) {
		t.Errorf("totals = %+v", got)
	}
}
