package ledger_test

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/ledger"
	"CricLedger/internal/retry"
	"CricLedger/internal/store"
	"CricLedger/internal/store/memory"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	st := memory.New(memory.WithLockWait(5 * time.Second))
	l := ledger.New(st, zerolog.Nop(), nil, ledger.WithRetryPolicy(retry.Policy{
		Attempts: 10, Initial: time.Millisecond, Max: 10 * time.Millisecond,
	}))
	return l, st
}

func mustWallet(t *testing.T, l *ledger.Ledger, buckets map[domain.Bucket]string) uuid.UUID {
	t.Helper()
	owner := uuid.New()
	if _, err := l.CreateWallet(context.Background(), owner); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	for b, amt := range buckets {
		_, err := l.Credit(context.Background(), ledger.Posting{
			Owner: owner, Bucket: b, Amount: dec(amt),
			Kind: domain.TxKindAdjustment, Reference: fmt.Sprintf("seed:%s:%s", owner, b),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", b, err)
		}
	}
	return owner
}

func mustBalance(t *testing.T, l *ledger.Ledger, owner uuid.UUID, b domain.Bucket) decimal.Decimal {
	t.Helper()
	w, err := l.Wallet(context.Background(), owner)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w.Balance(b)
}

// ============================================================================
// Test: Credit / Debit
// ============================================================================

func TestCredit_IncreasesBucketAndJournals(t *testing.T) {
	l, st := newTestLedger(t)
	owner := mustWallet(t, l, nil)

	rcpt, err := l.Credit(context.Background(), ledger.Posting{
		Owner: owner, Bucket: domain.BucketBonus, Amount: dec("5.5"),
		Kind: domain.TxKindAdjustment, Reference: "bonus-1",
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !rcpt.Wallet.BonusBalance.Equal(dec("5.5")) {
		t.Errorf("bonus = %s, want 5.5", rcpt.Wallet.BonusBalance)
	}
	if rcpt.Transaction.Status != domain.TxStatusCredited || rcpt.Transaction.Kind != domain.TxKindAdjustment {
		t.Errorf("journal row = %+v", rcpt.Transaction)
	}

	err = st.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetTransactionByReference(context.Background(), "bonus-1")
		return err
	})
	if err != nil {
		t.Errorf("journal row not persisted: %v", err)
	}
}

func TestCredit_RejectsNonPositiveAndOverPrecise(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, nil)

	for i, amt := range []string{"0", "-1", "0.000000001"} {
		_, err := l.Credit(context.Background(), ledger.Posting{
			Owner: owner, Bucket: domain.BucketDeposit, Amount: dec(amt),
			Kind: domain.TxKindAdjustment, Reference: fmt.Sprintf("bad-%d", i),
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("amount %s: expected validation error, got %v", amt, err)
		}
	}
}

func TestCredit_SameReferenceIsNoOp(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, nil)
	p := ledger.Posting{
		Owner: owner, Bucket: domain.BucketDeposit, Amount: dec("10"),
		Kind: domain.TxKindAdjustment, Reference: "adj-1",
	}

	if _, err := l.Credit(context.Background(), p); err != nil {
		t.Fatalf("first credit: %v", err)
	}
	rcpt, err := l.Credit(context.Background(), p)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if !rcpt.Duplicate {
		t.Error("second credit should be reported as duplicate")
	}
	if got := mustBalance(t, l, owner, domain.BucketDeposit); !got.Equal(dec("10")) {
		t.Errorf("deposit = %s, want 10", got)
	}

	p.Amount = dec("11")
	if _, err := l.Credit(context.Background(), p); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("reused reference with different amount: got %v", err)
	}
}

func TestDebit_InsufficientFundsNoPartial(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, map[domain.Bucket]string{domain.BucketDeposit: "3"})

	_, err := l.Debit(context.Background(), ledger.Posting{
		Owner: owner, Bucket: domain.BucketDeposit, Amount: dec("3.01"),
		Kind: domain.TxKindAdjustment, Reference: "debit-1",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := mustBalance(t, l, owner, domain.BucketDeposit); !got.Equal(dec("3")) {
		t.Errorf("deposit = %s, want 3", got)
	}
}

func TestDebit_UnknownWallet(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Debit(context.Background(), ledger.Posting{
		Owner: uuid.New(), Bucket: domain.BucketDeposit, Amount: dec("1"),
		Kind: domain.TxKindAdjustment, Reference: "ghost",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// ============================================================================
// Test: Split and Move
// ============================================================================

func TestDebitSplit_BonusFirstThenDeposit(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, map[domain.Bucket]string{
		domain.BucketBonus:   "10",
		domain.BucketDeposit: "100",
	})

	var split ledger.Split
	err := l.InTx(context.Background(), "test_split", func(tx store.Tx) error {
		var err error
		_, split, err = l.ApplyDebitSplit(context.Background(), tx, owner, dec("49"),
			[]domain.Bucket{domain.BucketBonus, domain.BucketDeposit},
			domain.TxKindEntryDebit, "entry:x", nil)
		return err
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !split[domain.BucketBonus].Equal(dec("10")) || !split[domain.BucketDeposit].Equal(dec("39")) {
		t.Errorf("split = %v", split)
	}
	if got := mustBalance(t, l, owner, domain.BucketDeposit); !got.Equal(dec("61")) {
		t.Errorf("deposit = %s, want 61", got)
	}
	if got := mustBalance(t, l, owner, domain.BucketBonus); !got.IsZero() {
		t.Errorf("bonus = %s, want 0", got)
	}
}

func TestDebitSplit_CombinedShortfallChangesNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, map[domain.Bucket]string{
		domain.BucketBonus:   "10",
		domain.BucketDeposit: "20",
	})

	err := l.InTx(context.Background(), "test_split", func(tx store.Tx) error {
		_, _, err := l.ApplyDebitSplit(context.Background(), tx, owner, dec("30.5"),
			[]domain.Bucket{domain.BucketBonus, domain.BucketDeposit},
			domain.TxKindEntryDebit, "entry:y", nil)
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := mustBalance(t, l, owner, domain.BucketBonus); !got.Equal(dec("10")) {
		t.Errorf("bonus = %s, want 10", got)
	}
	if got := mustBalance(t, l, owner, domain.BucketDeposit); !got.Equal(dec("20")) {
		t.Errorf("deposit = %s, want 20", got)
	}
}

func TestMove_DepositToHeld(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, map[domain.Bucket]string{domain.BucketDeposit: "50"})

	err := l.InTx(context.Background(), "test_move", func(tx store.Tx) error {
		_, err := l.ApplyMove(context.Background(), tx, owner, domain.BucketDeposit, domain.BucketHeld,
			dec("20"), domain.TxKindWithdrawalHold, "hold-1", nil)
		return err
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := mustBalance(t, l, owner, domain.BucketHeld); !got.Equal(dec("20")) {
		t.Errorf("held = %s, want 20", got)
	}
	if got := mustBalance(t, l, owner, domain.BucketDeposit); !got.Equal(dec("30")) {
		t.Errorf("deposit = %s, want 30", got)
	}
}

// ============================================================================
// Test: Concurrency
// ============================================================================

func TestConcurrentPostings_ConserveBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	owner := mustWallet(t, l, map[domain.Bucket]string{domain.BucketDeposit: "100"})

	const workers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited = decimal.Zero
		debited  = decimal.Zero
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := decimal.NewFromInt(int64(i%7 + 1))
			p := ledger.Posting{
				Owner: owner, Bucket: domain.BucketDeposit, Amount: amount,
				Kind: domain.TxKindAdjustment, Reference: fmt.Sprintf("c-%d", i),
			}
			if i%2 == 0 {
				if _, err := l.Credit(context.Background(), p); err != nil {
					t.Errorf("credit %d: %v", i, err)
					return
				}
				mu.Lock()
				credited = credited.Add(amount)
				mu.Unlock()
				return
			}
			_, err := l.Debit(context.Background(), p)
			switch {
			case err == nil:
				mu.Lock()
				debited = debited.Add(amount)
				mu.Unlock()
			case errors.Is(err, domain.ErrInsufficientFunds):
			default:
				t.Errorf("debit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	want := dec("100").Add(credited).Sub(debited)
	got := mustBalance(t, l, owner, domain.BucketDeposit)
	if !got.Equal(want) {
		t.Errorf("final balance = %s, want %s", got, want)
	}
	if got.IsNegative() {
		t.Errorf("balance went negative: %s", got)
	}
}

func TestInTx_LockWaitSurfacesConflict(t *testing.T) {
	st := memory.New(memory.WithLockWait(10 * time.Millisecond))
	l := ledger.New(st, zerolog.Nop(), nil, ledger.WithRetryPolicy(retry.Policy{
		Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond,
	}))

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		st.WithinTx(context.Background(), func(store.Tx) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	_, err := l.CreateWallet(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("conflict must be retryable")
	}
}
