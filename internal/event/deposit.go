package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositAccepted struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
}

type DepositCredited struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Owner         uuid.UUID       `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
}

type DepositFailed struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	Reason        string    `json:"reason"`
}

type WalletCreated struct {
	Owner uuid.UUID `json:"owner_id"`
}

type WalletAdjusted struct {
	Owner     uuid.UUID       `json:"owner_id"`
	Bucket    string          `json:"bucket"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	Reference string          `json:"reference"`
}
