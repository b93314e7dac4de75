package currency

import "github.com/shopspring/decimal"

// Round rounds amount to places decimal digits, halves away from zero.
// Pricing and display both go through here so that rounding an already
// rounded amount is always a no-op.
func Round(amount decimal.Decimal, places int32) decimal.Decimal {
	if places < 0 {
		places = 0
	}
	return amount.Round(places)
}
