// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors; commission amounts
// are audit records and must survive round trips through storage bit-exact.
type Money = decimal.Decimal

// NewMoney creates a Money value from a float.
// WARNING: Use NewMoneyFromString for precise values.
func NewMoney(f float64) Money {
	return decimal.NewFromFloat(f)
}

// NewMoneyFromString creates a Money value from a string.
// This is the preferred method for monetary values.
func NewMoneyFromString(s string) (Money, error) {
	return decimal.NewFromString(s)
}

// MustMoney creates a Money value from a string, panics on error.
// Use only for constants and tests.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns zero Money value.
func Zero() Money {
	return decimal.Zero
}

// Rate is a commission percentage in [0, 100].
// Stored as a first-class decimal column on the compliance profile.
type Rate = decimal.Decimal

// NewRate creates a Rate from a float.
func NewRate(f float64) Rate {
	return decimal.NewFromFloat(f)
}

// ValidRate reports whether r is inside the allowed [0, 100] range.
func ValidRate(r Rate) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(100))
}
