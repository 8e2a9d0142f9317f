package domain

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxKind is the closed set of ledger transaction kinds.
type TxKind uint8

const (
	TxKindUnknown TxKind = iota
	TxKindDeposit
	TxKindEntryDebit
	TxKindPayoutCredit
	TxKindWithdrawalHold
	TxKindWithdrawalRelease
	TxKindAdjustment
)

var txKinds = []TxKind{
	TxKindDeposit,
	TxKindEntryDebit,
	TxKindPayoutCredit,
	TxKindWithdrawalHold,
	TxKindWithdrawalRelease,
	TxKindAdjustment,
}

func (k TxKind) String() string {
	switch k {
	case TxKindDeposit:
		return "deposit"
	case TxKindEntryDebit:
		return "entry-debit"
	case TxKindPayoutCredit:
		return "payout-credit"
	case TxKindWithdrawalHold:
		return "withdrawal-hold"
	case TxKindWithdrawalRelease:
		return "withdrawal-release"
	case TxKindAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

func ParseTxKind(s string) (TxKind, error) {
	for _, k := range txKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return TxKindUnknown, Errorf(ErrValidation, "unknown transaction kind %q", s)
}

func (k TxKind) Value() (driver.Value, error) {
	if k == TxKindUnknown {
		return nil, Errorf(ErrValidation, "transaction kind not set")
	}
	return k.String(), nil
}

func (k *TxKind) Scan(src any) error {
	s, err := enumText(src)
	if err != nil {
		return err
	}
	v, err := ParseTxKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k TxKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TxKind) UnmarshalText(text []byte) error {
	v, err := ParseTxKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// TxStatus is the LedgerTransaction state machine:
//
//	pending -> confirmed -> credited
//	pending | confirmed -> failed
type TxStatus uint8

const (
	TxStatusUnknown TxStatus = iota
	TxStatusPending
	TxStatusConfirmed
	TxStatusCredited
	TxStatusFailed
)

var txStatuses = []TxStatus{TxStatusPending, TxStatusConfirmed, TxStatusCredited, TxStatusFailed}

var txTransitions = map[TxStatus][]TxStatus{
	TxStatusPending:   {TxStatusConfirmed, TxStatusFailed},
	TxStatusConfirmed: {TxStatusCredited, TxStatusFailed},
}

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusConfirmed:
		return "confirmed"
	case TxStatusCredited:
		return "credited"
	case TxStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func ParseTxStatus(s string) (TxStatus, error) {
	for _, st := range txStatuses {
		if st.String() == s {
			return st, nil
		}
	}
	return TxStatusUnknown, Errorf(ErrValidation, "unknown transaction status %q", s)
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s TxStatus) CanTransition(to TxStatus) bool {
	for _, next := range txTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s TxStatus) Terminal() bool {
	return s == TxStatusCredited || s == TxStatusFailed
}

func (s TxStatus) Value() (driver.Value, error) {
	if s == TxStatusUnknown {
		return nil, Errorf(ErrValidation, "transaction status not set")
	}
	return s.String(), nil
}

func (s *TxStatus) Scan(src any) error {
	text, err := enumText(src)
	if err != nil {
		return err
	}
	v, err := ParseTxStatus(text)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s TxStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TxStatus) UnmarshalText(text []byte) error {
	v, err := ParseTxStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LedgerTransaction is one row of the ledger journal. Reference is globally
// unique and is the deduplication key for external events.
type LedgerTransaction struct {
	ID            uuid.UUID       `json:"id"`
	Owner         uuid.NullUUID   `json:"owner_id"`
	Reference     string          `json:"reference"`
	Kind          TxKind          `json:"kind"`
	Bucket        Bucket          `json:"bucket"`
	Amount        decimal.Decimal `json:"amount"`
	Status        TxStatus        `json:"status"`
	Confirmations int             `json:"confirmations"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// Advance moves the transaction to status to, rejecting edges that are not
// part of the state machine.
func (t *LedgerTransaction) Advance(to TxStatus) error {
	if !t.Status.CanTransition(to) {
		return Errorf(ErrValidation, "transaction %s: illegal transition %s -> %s", t.Reference, t.Status, to)
	}
	t.Status = to
	return nil
}
