package money

import (
	"CricLedger/internal/domain"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places of the ledger unit (0.00000001).
// Postgres columns are NUMERIC(30,8) to match.
const Places int32 = 8

// RoundingMode selects how a value is brought back to the ledger unit.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown                         // Toward zero
	RoundUp                           // Away from zero
)

// Unit is the smallest representable amount.
var Unit = decimal.New(1, -Places)

// Parse reads a decimal-as-string amount. Scientific notation and more than
// Places fractional digits are rejected with domain.ErrValidation rather
// than rounded.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "empty amount")
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "amount %q: exponent notation not accepted", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "amount %q: %v", s, err)
	}
	if !HasLedgerScale(d) {
		return decimal.Zero, domain.Errorf(domain.ErrValidation, "amount %q: more than %d decimal places", s, Places)
	}
	return d, nil
}

// HasLedgerScale reports whether d is an exact multiple of Unit.
func HasLedgerScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Places))
}

// Round brings d to the ledger unit using mode.
func Round(d decimal.Decimal, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundDown:
		return d.RoundDown(Places)
	case RoundUp:
		return d.RoundUp(Places)
	default:
		return d.RoundBank(Places)
	}
}

// MulRound computes a * b rounded to the ledger unit.
// decimal multiplication is exact, so rounding happens once.
func MulRound(a, b decimal.Decimal, mode RoundingMode) decimal.Decimal {
	return Round(a.Mul(b), mode)
}

// DivRound computes num / denom rounded to the ledger unit. RoundDown is an
// exact truncated quotient, so denom * result never exceeds num.
func DivRound(num decimal.Decimal, denom int64, mode RoundingMode) decimal.Decimal {
	if denom == 0 {
		panic("money: division by zero")
	}
	d := decimal.NewFromInt(denom)
	if mode == RoundDown {
		q, _ := num.QuoRem(d, Places)
		return q
	}
	return Round(num.DivRound(d, Places+8), mode)
}

// Sum adds amounts exactly.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// String formats an amount with a fixed number of places, e.g. "83.30000000".
func String(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
