package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownMarket is returned when a market code is not part of the supported set.
var ErrUnknownMarket = errors.New("unknown market")

// SymbolPosition indicates on which side of the number the currency symbol is rendered.
type SymbolPosition string

const (
	SymbolLeading  SymbolPosition = "leading"
	SymbolTrailing SymbolPosition = "trailing"
)

// Policy describes how amounts are rounded and labelled for one market.
type Policy struct {
	Market         string         `json:"market"`
	CurrencyCode   string         `json:"currencyCode"`
	CurrencySymbol string         `json:"currencySymbol"`
	DecimalPlaces  int32          `json:"decimalPlaces"`
	SymbolPosition SymbolPosition `json:"symbolPosition"`
}

// Round rounds amount to the policy's decimal places.
func (p Policy) Round(amount decimal.Decimal) decimal.Decimal {
	return Round(amount, p.DecimalPlaces)
}

// Zero returns a zero amount carrying the policy's scale.
func (p Policy) Zero() decimal.Decimal {
	return Round(decimal.Zero, p.DecimalPlaces)
}

var policies = map[string]Policy{
	"us": {Market: "us", CurrencyCode: "USD", CurrencySymbol: "$", DecimalPlaces: 2, SymbolPosition: SymbolLeading},
	"ca": {Market: "ca", CurrencyCode: "CAD", CurrencySymbol: "$", DecimalPlaces: 2, SymbolPosition: SymbolLeading},
	"gb": {Market: "gb", CurrencyCode: "GBP", CurrencySymbol: "£", DecimalPlaces: 2, SymbolPosition: SymbolLeading},
	"de": {Market: "de", CurrencyCode: "EUR", CurrencySymbol: "€", DecimalPlaces: 2, SymbolPosition: SymbolTrailing},
	"fr": {Market: "fr", CurrencyCode: "EUR", CurrencySymbol: "€", DecimalPlaces: 2, SymbolPosition: SymbolTrailing},
	"nl": {Market: "nl", CurrencyCode: "EUR", CurrencySymbol: "€", DecimalPlaces: 2, SymbolPosition: SymbolTrailing},
	"se": {Market: "se", CurrencyCode: "SEK", CurrencySymbol: "kr", DecimalPlaces: 2, SymbolPosition: SymbolTrailing},
	"kw": {Market: "kw", CurrencyCode: "KWD", CurrencySymbol: "KD", DecimalPlaces: 3, SymbolPosition: SymbolLeading},
	"bh": {Market: "bh", CurrencyCode: "BHD", CurrencySymbol: "BD", DecimalPlaces: 3, SymbolPosition: SymbolLeading},
	"jo": {Market: "jo", CurrencyCode: "JOD", CurrencySymbol: "JD", DecimalPlaces: 3, SymbolPosition: SymbolLeading},
	"om": {Market: "om", CurrencyCode: "OMR", CurrencySymbol: "OMR", DecimalPlaces: 3, SymbolPosition: SymbolLeading},
}

// PolicyFor returns the currency policy for the given market code.
func PolicyFor(market string) (Policy, error) {
	return All().PolicyFor(market)
}

// Markets lists every supported market code in sorted order.
func Markets() []string {
	return All().Markets()
}

// Table is an immutable set of market policies.
type Table struct {
	entries map[string]Policy
}

// All returns the full built-in table.
func All() Table {
	return Table{entries: policies}
}

// Restrict builds a table limited to the provided market codes. An empty
// list keeps every built-in market.
func Restrict(codes []string) (Table, error) {
	if len(codes) == 0 {
		return All(), nil
	}
	entries := make(map[string]Policy, len(codes))
	for _, code := range codes {
		p, err := PolicyFor(code)
		if err != nil {
			return Table{}, err
		}
		entries[p.Market] = p
	}
	return Table{entries: entries}, nil
}

// PolicyFor resolves a market code against the table.
func (t Table) PolicyFor(market string) (Policy, error) {
	key := normalize(market)
	if p, ok := t.entries[key]; ok {
		return p, nil
	}
	return Policy{}, fmt.Errorf("market %q: %w", market, ErrUnknownMarket)
}

// Markets lists the table's market codes in sorted order.
func (t Table) Markets() []string {
	out := make([]string, 0, len(t.entries))
	for code := range t.entries {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Policies returns the table entries ordered by market code.
func (t Table) Policies() []Policy {
	codes := t.Markets()
	out := make([]Policy, 0, len(codes))
	for _, code := range codes {
		out = append(out, t.entries[code])
	}
	return out
}

// Has reports whether the market is part of the table.
func (t Table) Has(market string) bool {
	_, ok := t.entries[normalize(market)]
	return ok
}

func normalize(market string) string {
	return strings.ToLower(strings.TrimSpace(market))
}
