// Package amount provides integer-only arithmetic on token amounts.
//
// Amounts are carried as decimal.Decimal so they can exceed 64 bits, but every
// value produced here is integral: division truncates toward zero and never
// leaves a fractional part behind.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotInteger is returned when a parsed amount has a fractional part.
var ErrNotInteger = errors.New("amount must be an integer")

// ErrNegative is returned when a parsed amount is below zero.
var ErrNegative = errors.New("amount must not be negative")

// Zero is the zero amount.
var Zero = decimal.Zero

// Hundred is used for percentage math.
var Hundred = decimal.NewFromInt(100)

// FromInt converts an int64 into an amount.
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// Parse parses a base-10 integer string into a non-negative amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return decimal.Zero, ErrNotInteger
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegative
	}
	return d, nil
}

// Quo returns a / b truncated toward zero. b must be non-zero.
func Quo(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, 0)
	return q
}

// Rem returns the remainder of a / b under truncated division.
func Rem(a, b decimal.Decimal) decimal.Decimal {
	_, r := a.QuoRem(b, 0)
	return r
}

// MulDiv returns a * b / c truncated toward zero.
// The product is formed first so no precision is lost before the division.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	return Quo(a.Mul(b), c)
}

// Percent returns v * pct / 100 truncated.
func Percent(v decimal.Decimal, pct uint8) decimal.Decimal {
	return MulDiv(v, decimal.NewFromInt(int64(pct)), Hundred)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// ClampZero returns v, or zero when v is negative.
func ClampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// String renders the amount without exponent or fraction.
func String(v decimal.Decimal) string {
	return v.StringFixed(0)
}
