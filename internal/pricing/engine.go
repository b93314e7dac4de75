package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/currency"
)

// ErrInvalidItemState marks an item whose price, quantity or condition is outside its domain.
var ErrInvalidItemState = errors.New("invalid item state")

// FamilyBonusRate is the uplift applied to the subtotal for loyalty members.
var FamilyBonusRate = decimal.RequireFromString("0.10")

// Product is the catalog snapshot captured when an item is selected.
type Product struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"basePrice"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// Item is one line of a buyback list.
type Item struct {
	ID        string    `json:"id"`
	Product   Product   `json:"product"`
	Condition Condition `json:"condition"`
	Quantity  int       `json:"quantity"`
}

// Offer aggregates the monetary result for a list.
type Offer struct {
	Subtotal       decimal.Decimal
	FamilyDiscount decimal.Decimal
	Total          decimal.Decimal
	ItemCount      int
}

// Line pairs an item with its derived prices.
type Line struct {
	Item              Item
	UnitAdjustedPrice decimal.Decimal
	LineTotal         decimal.Decimal
}

// Validate checks that the item can be priced.
func Validate(it Item) error {
	if it.Product.BasePrice.IsNegative() {
		return fmt.Errorf("negative base price %s: %w", it.Product.BasePrice, ErrInvalidItemState)
	}
	if it.Quantity < 1 {
		return fmt.Errorf("quantity %d: %w", it.Quantity, ErrInvalidItemState)
	}
	if !it.Condition.Valid() {
		return fmt.Errorf("condition %d: %w", it.Condition, ErrInvalidItemState)
	}
	return nil
}

// UnitAdjustedPrice applies the condition multiplier to the base price and
// rounds to the market precision.
func UnitAdjustedPrice(it Item, places int32) (decimal.Decimal, error) {
	if err := Validate(it); err != nil {
		return decimal.Zero, err
	}
	return unitPrice(it, places), nil
}

// LineTotal multiplies the rounded unit price by the quantity. The unit
// price is rounded first; the product is never rounded again.
func LineTotal(it Item, places int32) (decimal.Decimal, error) {
	if err := Validate(it); err != nil {
		return decimal.Zero, err
	}
	return unitPrice(it, places).Mul(decimal.NewFromInt(int64(it.Quantity))), nil
}

// Aggregate computes the offer for the provided items.
func Aggregate(items []Item, familyMember bool, policy currency.Policy) (Offer, error) {
	_, offer, err := Quote(items, familyMember, policy)
	return offer, err
}

// Quote computes the per-line breakdown alongside the offer.
func Quote(items []Item, familyMember bool, policy currency.Policy) ([]Line, Offer, error) {
	lines := make([]Line, 0, len(items))
	subtotal := decimal.Zero
	count := 0
	for _, it := range items {
		if err := Validate(it); err != nil {
			return nil, Offer{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
		unit := unitPrice(it, policy.DecimalPlaces)
		total := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		lines = append(lines, Line{Item: it, UnitAdjustedPrice: unit, LineTotal: total})
		subtotal = subtotal.Add(total)
		count += it.Quantity
	}
	discount := decimal.Zero
	if familyMember {
		discount = policy.Round(subtotal.Mul(FamilyBonusRate))
	}
	return lines, Offer{
		Subtotal:       subtotal,
		FamilyDiscount: discount,
		Total:          subtotal.Add(discount),
		ItemCount:      count,
	}, nil
}

func unitPrice(it Item, places int32) decimal.Decimal {
	return currency.Round(it.Product.BasePrice.Mul(MultiplierFor(it.Condition)), places)
}
