// Package money provides shared monetary parsing and formatting utilities.
//
// All balances, limits and transaction amounts are decimal.Decimal values
// with two fractional digits at rest. Interest accrual computes at full
// precision and rounds once at the end.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits amounts carry at rest.
const Scale = 2

// Zero is the canonical zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Parse converts a decimal string (e.g. "1.50") to a Decimal. The empty
// string parses as zero. Invalid input returns an error rather than a
// sentinel value.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for trusted literals in tests and static tables.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// RoundCents rounds an amount to two decimal places, half away from zero.
// Used after interest computation, which happens at full precision.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// IsPositive reports whether d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}
