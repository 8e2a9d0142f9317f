package domain

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bucket names one balance column of a wallet.
type Bucket uint8

const (
	BucketUnknown Bucket = iota
	BucketDeposit
	BucketBonus
	BucketWinning
	BucketHeld
)

// Buckets lists every valid bucket in column order.
var Buckets = []Bucket{BucketDeposit, BucketBonus, BucketWinning, BucketHeld}

func (b Bucket) String() string {
	switch b {
	case BucketDeposit:
		return "deposit"
	case BucketBonus:
		return "bonus"
	case BucketWinning:
		return "winning"
	case BucketHeld:
		return "held"
	default:
		return "unknown"
	}
}

// ParseBucket is the inverse of String.
func ParseBucket(s string) (Bucket, error) {
	for _, b := range Buckets {
		if b.String() == s {
			return b, nil
		}
	}
	return BucketUnknown, Errorf(ErrValidation, "unknown bucket %q", s)
}

func (b Bucket) Value() (driver.Value, error) {
	if b == BucketUnknown {
		return nil, Errorf(ErrValidation, "bucket not set")
	}
	return b.String(), nil
}

func (b *Bucket) Scan(src any) error {
	s, err := enumText(src)
	if err != nil {
		return err
	}
	v, err := ParseBucket(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Bucket) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Bucket) UnmarshalText(text []byte) error {
	v, err := ParseBucket(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Wallet holds the four balance buckets of one user. All balances are
// non-negative; the wallets table enforces the same with CHECK constraints.
type Wallet struct {
	Owner          uuid.UUID       `json:"owner_id"`
	DepositBalance decimal.Decimal `json:"deposit_balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	WinningBalance decimal.Decimal `json:"winning_balance"`
	HeldBalance    decimal.Decimal `json:"held_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Balance returns the balance of bucket b.
func (w Wallet) Balance(b Bucket) decimal.Decimal {
	switch b {
	case BucketDeposit:
		return w.DepositBalance
	case BucketBonus:
		return w.BonusBalance
	case BucketWinning:
		return w.WinningBalance
	case BucketHeld:
		return w.HeldBalance
	default:
		return decimal.Zero
	}
}

func (w *Wallet) setBalance(b Bucket, v decimal.Decimal) {
	switch b {
	case BucketDeposit:
		w.DepositBalance = v
	case BucketBonus:
		w.BonusBalance = v
	case BucketWinning:
		w.WinningBalance = v
	case BucketHeld:
		w.HeldBalance = v
	}
}

// Credit adds amount to bucket b.
func (w *Wallet) Credit(b Bucket, amount decimal.Decimal) error {
	if b == BucketUnknown {
		return Errorf(ErrValidation, "bucket not set")
	}
	if !amount.IsPositive() {
		return Errorf(ErrValidation, "credit amount must be positive, got %s", amount)
	}
	w.setBalance(b, w.Balance(b).Add(amount))
	return nil
}

// Debit subtracts amount from bucket b. It never leaves a partial debit.
func (w *Wallet) Debit(b Bucket, amount decimal.Decimal) error {
	if b == BucketUnknown {
		return Errorf(ErrValidation, "bucket not set")
	}
	if !amount.IsPositive() {
		return Errorf(ErrValidation, "debit amount must be positive, got %s", amount)
	}
	have := w.Balance(b)
	if have.LessThan(amount) {
		return Errorf(ErrInsufficientFunds, "%s balance %s < %s", b, have, amount)
	}
	w.setBalance(b, have.Sub(amount))
	return nil
}

// Validate checks the non-negativity invariant.
func (w Wallet) Validate() error {
	for _, b := range Buckets {
		if w.Balance(b).IsNegative() {
			return Errorf(ErrIntegrityViolation, "wallet %s: %s balance negative (%s)", w.Owner, b, w.Balance(b))
		}
	}
	return nil
}

// Total is the sum of all four buckets.
func (w Wallet) Total() decimal.Decimal {
	return w.DepositBalance.Add(w.BonusBalance).Add(w.WinningBalance).Add(w.HeldBalance)
}
