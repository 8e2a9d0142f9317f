package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContestStatus is the contest state machine:
//
//	scheduled -> open -> closed -> settled
type ContestStatus uint8

const (
	ContestStatusUnknown ContestStatus = iota
	ContestStatusScheduled
	ContestStatusOpen
	ContestStatusClosed
	ContestStatusSettled
)

var contestStatuses = []ContestStatus{
	ContestStatusScheduled,
	ContestStatusOpen,
	ContestStatusClosed,
	ContestStatusSettled,
}

var contestTransitions = map[ContestStatus]ContestStatus{
	ContestStatusScheduled: ContestStatusOpen,
	ContestStatusOpen:      ContestStatusClosed,
	ContestStatusClosed:    ContestStatusSettled,
}

func (s ContestStatus) String() string {
	switch s {
	case ContestStatusScheduled:
		return "scheduled"
	case ContestStatusOpen:
		return "open"
	case ContestStatusClosed:
		return "closed"
	case ContestStatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

func ParseContestStatus(s string) (ContestStatus, error) {
	for _, st := range contestStatuses {
		if st.String() == s {
			return st, nil
		}
	}
	return ContestStatusUnknown, Errorf(ErrValidation, "unknown contest status %q", s)
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s ContestStatus) CanTransition(to ContestStatus) bool {
	next, ok := contestTransitions[s]
	return ok && next == to
}

func (s ContestStatus) Value() (driver.Value, error) {
	if s == ContestStatusUnknown {
		return nil, Errorf(ErrValidation, "contest status not set")
	}
	return s.String(), nil
}

func (s *ContestStatus) Scan(src any) error {
	text, err := enumText(src)
	if err != nil {
		return err
	}
	v, err := ParseContestStatus(text)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s ContestStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ContestStatus) UnmarshalText(text []byte) error {
	v, err := ParseContestStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PrizeStructure maps a 1-based rank to its share of the distributable pool.
type PrizeStructure map[int]decimal.Decimal

// Validate checks ranks are >= 1, each share is in (0, 1] and the shares sum
// to at most 1.
func (p PrizeStructure) Validate() error {
	if len(p) == 0 {
		return Errorf(ErrValidation, "prize structure is empty")
	}
	one := decimal.NewFromInt(1)
	for rank, share := range p {
		if rank < 1 {
			return Errorf(ErrValidation, "prize rank %d must be >= 1", rank)
		}
		if !share.IsPositive() || share.GreaterThan(one) {
			return Errorf(ErrValidation, "prize share for rank %d must be in (0, 1], got %s", rank, share)
		}
	}
	if total := p.Total(); total.GreaterThan(one) {
		return Errorf(ErrValidation, "prize shares sum to %s, must be <= 1", total)
	}
	return nil
}

// Total is the sum of all shares.
func (p PrizeStructure) Total() decimal.Decimal {
	total := decimal.Zero
	for _, share := range p {
		total = total.Add(share)
	}
	return total
}

// Ranks returns the ranks in ascending order.
func (p PrizeStructure) Ranks() []int {
	ranks := make([]int, 0, len(p))
	for r := range p {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}

func (p PrizeStructure) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(p))
	for rank, share := range p {
		out[strconv.Itoa(rank)] = share.String()
	}
	return json.Marshal(out)
}

func (p *PrizeStructure) UnmarshalJSON(data []byte) error {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode prize structure: %w", err)
	}
	out := make(PrizeStructure, len(raw))
	for k, share := range raw {
		rank, err := strconv.Atoi(k)
		if err != nil {
			return Errorf(ErrValidation, "prize rank %q is not an integer", k)
		}
		out[rank] = share
	}
	*p = out
	return nil
}

func (p PrizeStructure) Value() (driver.Value, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *PrizeStructure) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported prize structure source type %T", src)
	}
}

// Contest is one contest instance. EntryCount is maintained in the same unit
// of work as every entry insert and is capped by MaxPlayers in storage.
type Contest struct {
	ID                uuid.UUID       `json:"id"`
	MatchRef          string          `json:"match_ref"`
	Title             string          `json:"title"`
	EntryFee          decimal.Decimal `json:"entry_fee"`
	MaxPlayers        int             `json:"max_players"`
	MaxEntriesPerUser int             `json:"max_entries_per_user"`
	CommissionPct     decimal.Decimal `json:"commission_pct"`
	PrizeStructure    PrizeStructure  `json:"prize_structure"`
	Status            ContestStatus   `json:"status"`
	EntryCount        int             `json:"entry_count"`
	EntryDeadline     *time.Time      `json:"entry_deadline,omitempty"`
	SettledAt         *time.Time      `json:"settled_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Validate checks the static configuration of a contest.
func (c Contest) Validate() error {
	if c.EntryFee.IsNegative() {
		return Errorf(ErrValidation, "entry fee must be >= 0")
	}
	if c.MaxPlayers < 1 {
		return Errorf(ErrValidation, "max players must be >= 1")
	}
	if c.MaxEntriesPerUser < 1 {
		return Errorf(ErrValidation, "max entries per user must be >= 1")
	}
	if c.CommissionPct.IsNegative() || c.CommissionPct.GreaterThan(decimal.NewFromInt(1)) {
		return Errorf(ErrValidation, "commission pct must be in [0, 1], got %s", c.CommissionPct)
	}
	return c.PrizeStructure.Validate()
}

// Advance moves the contest to status to.
func (c *Contest) Advance(to ContestStatus) error {
	if !c.Status.CanTransition(to) {
		return Errorf(ErrValidation, "contest %s: illegal transition %s -> %s", c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// Entry is one paid participation in a contest.
type Entry struct {
	ID          uuid.UUID           `json:"id"`
	ContestID   uuid.UUID           `json:"contest_id"`
	Owner       uuid.UUID           `json:"owner_id"`
	EntryNo     int                 `json:"entry_no"`
	Amount      decimal.Decimal     `json:"amount"`
	BonusPart   decimal.Decimal     `json:"bonus_part"`
	DepositPart decimal.Decimal     `json:"deposit_part"`
	WinnerRank  *int                `json:"winner_rank,omitempty"`
	Payout      decimal.NullDecimal `json:"payout"`
	CreatedAt   time.Time           `json:"created_at"`
}
