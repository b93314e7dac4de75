// Package pricefmt splits monetary amounts into the parts a price widget renders.
package pricefmt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/currency"
)

// ErrInvalidAmount is returned for amounts that cannot be displayed as a price.
var ErrInvalidAmount = errors.New("invalid amount")

// DecimalSign separates the integer and fractional digits.
const DecimalSign = "."

// Presentation is the display decomposition of an amount.
type Presentation struct {
	IntegerValue   string                  `json:"integerValue"`
	DecimalValue   string                  `json:"decimalValue"`
	DecimalSign    string                  `json:"decimalSign"`
	CurrencyLabel  string                  `json:"currencyLabel"`
	SymbolPosition currency.SymbolPosition `json:"symbolPosition"`
}

// Format rounds amount with the policy precision and splits it for display.
func Format(amount decimal.Decimal, policy currency.Policy) (Presentation, error) {
	if amount.IsNegative() {
		return Presentation{}, fmt.Errorf("amount %s: %w", amount, ErrInvalidAmount)
	}
	places := policy.DecimalPlaces
	if places < 0 {
		places = 0
	}
	// Round before splitting so a carry reaches the integer digits.
	rounded := currency.Round(amount, places)
	fixed := rounded.StringFixed(places)

	p := Presentation{
		CurrencyLabel:  policy.CurrencySymbol,
		SymbolPosition: policy.SymbolPosition,
	}
	intPart, fracPart, found := strings.Cut(fixed, ".")
	p.IntegerValue = intPart
	if found {
		p.DecimalSign = DecimalSign
		p.DecimalValue = fracPart
	}
	return p, nil
}

// Number recomposes the numeric part without the currency label.
func (p Presentation) Number() string {
	return p.IntegerValue + p.DecimalSign + p.DecimalValue
}

func (p Presentation) String() string {
	if p.CurrencyLabel == "" {
		return p.Number()
	}
	if p.SymbolPosition == currency.SymbolTrailing {
		return p.Number() + " " + p.CurrencyLabel
	}
	return p.CurrencyLabel + p.Number()
}
