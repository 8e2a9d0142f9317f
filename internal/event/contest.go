package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ContestStatusChanged struct {
	ContestID uuid.UUID `json:"contest_id"`
	Status    string    `json:"status"`
}

type EntryCreated struct {
	ContestID   uuid.UUID       `json:"contest_id"`
	EntryID     uuid.UUID       `json:"entry_id"`
	Owner       uuid.UUID       `json:"owner_id"`
	EntryNo     int             `json:"entry_no"`
	BonusPart   decimal.Decimal `json:"bonus_part"`
	DepositPart decimal.Decimal `json:"deposit_part"`
	Forced      bool            `json:"forced"`
}

type WinnerPayout struct {
	EntryID uuid.UUID       `json:"entry_id"`
	Owner   uuid.UUID       `json:"owner_id"`
	Rank    int             `json:"rank"`
	Payout  decimal.Decimal `json:"payout"`
}

type ContestSettled struct {
	ContestID  uuid.UUID       `json:"contest_id"`
	Pool       decimal.Decimal `json:"pool"`
	Commission decimal.Decimal `json:"commission"`
	Winners    []WinnerPayout  `json:"winners"`
}
