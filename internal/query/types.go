package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy            bool                 `json:"is_healthy"`
	CheckedAt            time.Time            `json:"checked_at"`
	HeldMismatches       []HeldMismatch       `json:"held_mismatches,omitempty"`
	EntryCountMismatches []EntryCountMismatch `json:"entry_count_mismatches,omitempty"`
	OverpaidContests     []OverpaidContest    `json:"overpaid_contests,omitempty"`
}

// HeldMismatch is a wallet whose held balance differs from the sum of its
// requested and approved withdrawals, i.e. an orphaned or missing hold.
type HeldMismatch struct {
	Owner           uuid.UUID       `json:"owner_id"`
	HeldBalance     decimal.Decimal `json:"held_balance"`
	OpenWithdrawals decimal.Decimal `json:"open_withdrawals"`
}

type EntryCountMismatch struct {
	ContestID     uuid.UUID `json:"contest_id"`
	EntryCount    int       `json:"entry_count"`
	StoredEntries int       `json:"stored_entries"`
}

// OverpaidContest is a settled contest that paid out more than its pool.
type OverpaidContest struct {
	ContestID uuid.UUID       `json:"contest_id"`
	Pool      decimal.Decimal `json:"pool"`
	Paid      decimal.Decimal `json:"paid"`
}

// Totals sums every wallet bucket.
type Totals struct {
	Wallets int64           `json:"wallets"`
	Deposit decimal.Decimal `json:"deposit"`
	Bonus   decimal.Decimal `json:"bonus"`
	Winning decimal.Decimal `json:"winning"`
	Held    decimal.Decimal `json:"held"`
}
