// Package commission derives commission amounts from invoice totals.
package commission

import (
	"github.com/shopspring/decimal"

	"partnerpay/internal/core/types"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns rate/100 * untaxed. For refund documents the sign is
// forced negative regardless of the input sign. A zero rate yields exactly
// zero.
func Calculate(rate types.Rate, untaxed types.Money, refund bool) types.Money {
	amount := rate.Div(hundred).Mul(untaxed)

	if refund {
		return amount.Abs().Neg()
	}
	return amount
}
