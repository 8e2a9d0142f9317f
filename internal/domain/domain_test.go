package domain_test

import (
	"CricLedger/internal/domain"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================================
// Test: State machines
// ============================================================================

func TestTxStatus_TransitionTable(t *testing.T) {
	all := []domain.TxStatus{
		domain.TxStatusPending, domain.TxStatusConfirmed,
		domain.TxStatusCredited, domain.TxStatusFailed,
	}
	allowed := map[[2]domain.TxStatus]bool{
		{domain.TxStatusPending, domain.TxStatusConfirmed}:  true,
		{domain.TxStatusPending, domain.TxStatusFailed}:     true,
		{domain.TxStatusConfirmed, domain.TxStatusCredited}: true,
		{domain.TxStatusConfirmed, domain.TxStatusFailed}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]domain.TxStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestContestStatus_TransitionTable(t *testing.T) {
	all := []domain.ContestStatus{
		domain.ContestStatusScheduled, domain.ContestStatusOpen,
		domain.ContestStatusClosed, domain.ContestStatusSettled,
	}
	for i, from := range all {
		for j, to := range all {
			want := j == i+1
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestWithdrawalStatus_TransitionTable(t *testing.T) {
	all := []domain.WithdrawalStatus{
		domain.WithdrawalStatusRequested, domain.WithdrawalStatusApproved,
		domain.WithdrawalStatusRejected, domain.WithdrawalStatusCompleted,
	}
	allowed := map[[2]domain.WithdrawalStatus]bool{
		{domain.WithdrawalStatusRequested, domain.WithdrawalStatusApproved}: true,
		{domain.WithdrawalStatusRequested, domain.WithdrawalStatusRejected}: true,
		{domain.WithdrawalStatusApproved, domain.WithdrawalStatusCompleted}: true,
		{domain.WithdrawalStatusApproved, domain.WithdrawalStatusRejected}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]domain.WithdrawalStatus{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestAdvance_RejectsIllegalEdge(t *testing.T) {
	tx := domain.LedgerTransaction{Reference: "r1", Status: domain.TxStatusCredited}
	err := tx.Advance(domain.TxStatusCredited)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tx.Status != domain.TxStatusCredited {
		t.Errorf("status changed to %s", tx.Status)
	}
}

func TestStatusScan_UnknownValueFails(t *testing.T) {
	var s domain.TxStatus
	if err := s.Scan([]byte("CREDITED")); err == nil {
		t.Error("scan of mismatched enum text should fail")
	}
	if err := s.Scan("credited"); err != nil || s != domain.TxStatusCredited {
		t.Errorf("scan credited: %v, %s", err, s)
	}

	var ws domain.WithdrawalStatus
	if err := ws.Scan(nil); err == nil {
		t.Error("scan of NULL should fail")
	}
}

func TestStatusValue_UnknownRefused(t *testing.T) {
	if _, err := domain.ContestStatusUnknown.Value(); err == nil {
		t.Error("unknown status must not be written")
	}
	v, err := domain.TxKindEntryDebit.Value()
	if err != nil || v != "entry-debit" {
		t.Errorf("got %v, %v", v, err)
	}
}

// ============================================================================
// Test: Wallet
// ============================================================================

func TestWallet_DebitInsufficientLeavesBalance(t *testing.T) {
	w := domain.Wallet{Owner: uuid.New(), DepositBalance: dec("10")}
	err := w.Debit(domain.BucketDeposit, dec("10.00000001"))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !w.DepositBalance.Equal(dec("10")) {
		t.Errorf("balance changed: %s", w.DepositBalance)
	}
}

func TestWallet_CreditRejectsNonPositive(t *testing.T) {
	w := domain.Wallet{}
	for _, amt := range []string{"0", "-1"} {
		if err := w.Credit(domain.BucketBonus, dec(amt)); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("credit %s: expected validation error, got %v", amt, err)
		}
	}
}

func TestWallet_ValidateNegative(t *testing.T) {
	w := domain.Wallet{HeldBalance: dec("-0.00000001")}
	if err := w.Validate(); !errors.Is(err, domain.ErrIntegrityViolation) {
		t.Errorf("expected integrity violation, got %v", err)
	}
}

// ============================================================================
// Test: PrizeStructure
// ============================================================================

func TestPrizeStructure_Validate(t *testing.T) {
	cases := []struct {
		name string
		p    domain.PrizeStructure
		ok   bool
	}{
		{"single winner", domain.PrizeStructure{1: dec("1")}, true},
		{"partial", domain.PrizeStructure{1: dec("0.5"), 2: dec("0.3")}, true},
		{"over one", domain.PrizeStructure{1: dec("0.7"), 2: dec("0.31")}, false},
		{"rank zero", domain.PrizeStructure{0: dec("1")}, false},
		{"zero share", domain.PrizeStructure{1: dec("0")}, false},
		{"empty", domain.PrizeStructure{}, false},
	}
	for _, c := range cases {
		err := c.p.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: got err=%v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestPrizeStructure_ScanJSON(t *testing.T) {
	var p domain.PrizeStructure
	if err := p.Scan([]byte(`{"1":"0.6","2":0.4}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !p[1].Equal(dec("0.6")) || !p[2].Equal(dec("0.4")) {
		t.Errorf("got %v", p)
	}
	if got := p.Ranks(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ranks = %v", got)
	}
}

// ============================================================================
// Test: Error classification
// ============================================================================

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want domain.Disposition
	}{
		{nil, domain.DispositionOK},
		{domain.Errorf(domain.ErrDuplicateEvent, "ref"), domain.DispositionOK},
		{domain.Errorf(domain.ErrConcurrencyConflict, "lock"), domain.DispositionRetry},
		{fmt.Errorf("wrapped: %w", domain.ErrTransient), domain.DispositionRetry},
		{errors.New("connection reset"), domain.DispositionRetry},
		{domain.Errorf(domain.ErrValidation, "bad"), domain.DispositionTerminal},
		{domain.Errorf(domain.ErrIntegrityViolation, "neg"), domain.DispositionTerminal},
		{domain.ErrInsufficientFunds, domain.DispositionTerminal},
	}
	for _, c := range cases {
		if got := domain.Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestErrorf_MatchesSentinelAndKind(t *testing.T) {
	err := domain.Errorf(domain.ErrContestFull, "contest %d", 7)
	if !errors.Is(err, domain.ErrContestFull) {
		t.Error("errors.Is should match sentinel")
	}
	if domain.KindOf(err) != domain.KindContestFull {
		t.Errorf("kind = %s", domain.KindOf(err))
	}
	if !domain.IsRetryable(domain.Errorf(domain.ErrConcurrencyConflict, "x")) {
		t.Error("conflict must be retryable")
	}
	if domain.IsRetryable(errors.New("plain")) {
		t.Error("plain error is not retryable by IsRetryable")
	}
}
