package determinism

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// NEVER use float64 for money. Every amount in the pipeline is a decimal.Decimal
// rounded with the helpers below.

// CentPlaces is the number of decimal places every intermediate amount is rounded to
const CentPlaces = 2

var (
	// FinalIncrement is the increment the final total is rounded to
	FinalIncrement = decimal.NewFromInt(5)

	hundred = decimal.NewFromInt(100)
)

// ErrInvalidIncrement is returned when a rounding increment is zero or negative
var ErrInvalidIncrement = errors.New("rounding increment must be positive")

// RoundToCents rounds to two decimal places, ties away from zero.
func RoundToCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

// RoundToNearest returns the multiple of increment nearest to amount.
// Ties round away from zero: 1232.50 -> 1235, -1232.50 -> -1235.
func RoundToNearest(amount, increment decimal.Decimal) (decimal.Decimal, error) {
	if !increment.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidIncrement, increment)
	}
	steps := amount.Div(increment).Round(0)
	return steps.Mul(increment), nil
}

// Percent returns base × pct/100 rounded to the cent. pct is expressed as 25 for 25%.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return RoundToCents(base.Mul(pct).Shift(-2))
}

// PercentOf is the factor form of a percentage (25 -> 0.25)
func PercentOf(pct decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred)
}

// FormatMoney renders an amount with exactly two decimals, e.g. "1235.00"
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(CentPlaces)
}
