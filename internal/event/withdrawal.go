package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatusChanged is the payload of every withdrawal.* event.
type WithdrawalStatusChanged struct {
	WithdrawalID uuid.UUID       `json:"withdrawal_id"`
	Owner        uuid.UUID       `json:"owner_id"`
	Amount       decimal.Decimal `json:"amount"`
	Address      string          `json:"address"`
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
}
