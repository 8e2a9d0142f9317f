package domain

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the withdrawal state machine:
//
//	requested -> approved -> completed
//	requested -> rejected
//	approved  -> rejected
type WithdrawalStatus uint8

const (
	WithdrawalStatusUnknown WithdrawalStatus = iota
	WithdrawalStatusRequested
	WithdrawalStatusApproved
	WithdrawalStatusRejected
	WithdrawalStatusCompleted
)

var withdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusRequested,
	WithdrawalStatusApproved,
	WithdrawalStatusRejected,
	WithdrawalStatusCompleted,
}

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusRequested: {WithdrawalStatusApproved, WithdrawalStatusRejected},
	WithdrawalStatusApproved:  {WithdrawalStatusCompleted, WithdrawalStatusRejected},
}

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalStatusRequested:
		return "requested"
	case WithdrawalStatusApproved:
		return "approved"
	case WithdrawalStatusRejected:
		return "rejected"
	case WithdrawalStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	for _, st := range withdrawalStatuses {
		if st.String() == s {
			return st, nil
		}
	}
	return WithdrawalStatusUnknown, Errorf(ErrValidation, "unknown withdrawal status %q", s)
}

func (s WithdrawalStatus) CanTransition(to WithdrawalStatus) bool {
	for _, next := range withdrawalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the request has reached completed or rejected.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusRejected
}

func (s WithdrawalStatus) Value() (driver.Value, error) {
	if s == WithdrawalStatusUnknown {
		return nil, Errorf(ErrValidation, "withdrawal status not set")
	}
	return s.String(), nil
}

func (s *WithdrawalStatus) Scan(src any) error {
	text, err := enumText(src)
	if err != nil {
		return err
	}
	v, err := ParseWithdrawalStatus(text)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s WithdrawalStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *WithdrawalStatus) UnmarshalText(text []byte) error {
	v, err := ParseWithdrawalStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// WithdrawalRequest reserves Amount in the owner's held balance until it
// reaches a terminal status.
type WithdrawalRequest struct {
	ID        uuid.UUID        `json:"id"`
	Owner     uuid.UUID        `json:"owner_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Address   string           `json:"address"`
	Status    WithdrawalStatus `json:"status"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Advance moves the request to status to.
func (w *WithdrawalRequest) Advance(to WithdrawalStatus) error {
	if !w.Status.CanTransition(to) {
		return Errorf(ErrValidation, "withdrawal %s: illegal transition %s -> %s", w.ID, w.Status, to)
	}
	w.Status = to
	return nil
}
