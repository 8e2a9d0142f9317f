package contest

import (
	"CricLedger/internal/domain"
	"CricLedger/internal/money"

	"github.com/shopspring/decimal"
)

// Distribution is how a contest pool is split.
//
// Commission is pool * commission_pct rounded half-even to the ledger unit.
// Each payout is (pool - commission) * share / tied, rounded down, where tied
// is the number of winners sharing that rank. Whatever rounding leaves over,
// and any share no winner claimed, is added to Commission, so
// sum(Amounts) + Commission == Pool exactly.
type Distribution struct {
	Pool          decimal.Decimal
	Commission    decimal.Decimal
	Distributable decimal.Decimal
	// Remainder is the part of Distributable not paid out; already included
	// in Commission.
	Remainder decimal.Decimal
	// Amounts is aligned with the ranks passed to ComputePayouts.
	Amounts []decimal.Decimal
}

// ComputePayouts splits pool among the winning ranks. ranks holds one element
// per winning entry; repeating a rank means a tie.
func ComputePayouts(pool, commissionPct decimal.Decimal, prizes domain.PrizeStructure, ranks []int) (Distribution, error) {
	if pool.IsNegative() || !money.HasLedgerScale(pool) {
		return Distribution{}, domain.Errorf(domain.ErrValidation, "invalid pool %s", pool)
	}
	if commissionPct.IsNegative() || commissionPct.GreaterThan(decimal.NewFromInt(1)) {
		return Distribution{}, domain.Errorf(domain.ErrValidation, "commission pct %s out of range", commissionPct)
	}
	if err := prizes.Validate(); err != nil {
		return Distribution{}, err
	}

	tied := make(map[int]int64, len(ranks))
	for _, r := range ranks {
		if _, ok := prizes[r]; !ok {
			return Distribution{}, domain.Errorf(domain.ErrValidation, "rank %d has no prize", r)
		}
		tied[r]++
	}

	commission := money.MulRound(pool, commissionPct, money.RoundHalfEven)
	distributable := pool.Sub(commission)

	amounts := make([]decimal.Decimal, len(ranks))
	paid := decimal.Zero
	for i, r := range ranks {
		amounts[i] = money.DivRound(distributable.Mul(prizes[r]), tied[r], money.RoundDown)
		paid = paid.Add(amounts[i])
	}

	remainder := distributable.Sub(paid)
	if remainder.IsNegative() {
		return Distribution{}, domain.Errorf(domain.ErrIntegrityViolation,
			"payouts %s exceed distributable %s", paid, distributable)
	}

	return Distribution{
		Pool:          pool,
		Commission:    commission.Add(remainder),
		Distributable: distributable,
		Remainder:     remainder,
		Amounts:       amounts,
	}, nil
}
