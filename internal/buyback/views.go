package buyback

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/pricefmt"
	"github.com/noah-isme/backend-buyback/internal/pricing"
)

// Money is an amount with its display decomposition.
type Money struct {
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
	pricefmt.Presentation
}

func money(amount decimal.Decimal, policy currency.Policy) (Money, error) {
	p, err := pricefmt.Format(amount, policy)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: p.Number(), Formatted: p.String(), Presentation: p}, nil
}

// ProductView is a catalog entry priced for a market.
type ProductView struct {
	ID        string           `json:"id"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	BasePrice Money            `json:"basePrice"`
	Offers    map[string]Money `json:"offers,omitempty"`
}

// LineView is one priced list line.
type LineView struct {
	ID        string            `json:"id"`
	Product   ProductView       `json:"product"`
	Condition pricing.Condition `json:"condition"`
	Quantity  int               `json:"quantity"`
	UnitPrice Money             `json:"unitPrice"`
	LineTotal Money             `json:"lineTotal"`
}

// OfferView is the aggregated offer.
type OfferView struct {
	Subtotal       Money `json:"subtotal"`
	FamilyDiscount Money `json:"familyDiscount"`
	Total          Money `json:"total"`
	ItemCount      int   `json:"itemCount"`
}

// ListView is the response body for list reads and mutations.
type ListView struct {
	Market       string          `json:"market"`
	Currency     currency.Policy `json:"currency"`
	Revision     int64           `json:"revision"`
	Stale        bool            `json:"stale"`
	FamilyMember bool            `json:"familyMember"`
	IsEmpty      bool            `json:"isEmpty"`
	Items        []LineView      `json:"items"`
	Offer        OfferView       `json:"offer"`
	ItemID       string          `json:"itemId,omitempty"`
}

func productView(p pricing.Product, policy currency.Policy, withOffers bool) (ProductView, error) {
	base, err := money(p.BasePrice, policy)
	if err != nil {
		return ProductView{}, err
	}
	v := ProductView{ID: p.ID, Code: p.Code, Name: p.Name, ImageURL: p.ImageURL, BasePrice: base}
	if !withOffers {
		return v, nil
	}
	v.Offers = make(map[string]Money, len(pricing.Conditions()))
	for _, c := range pricing.Conditions() {
		unit, err := pricing.UnitAdjustedPrice(pricing.Item{Product: p, Condition: c, Quantity: 1}, policy.DecimalPlaces)
		if err != nil {
			return ProductView{}, err
		}
		if v.Offers[c.String()], err = money(unit, policy); err != nil {
			return ProductView{}, err
		}
	}
	return v, nil
}

func listView(s *Store, member bool) (ListView, error) {
	policy := s.Policy()
	lines, offer, err := s.Quote(member)
	if err != nil {
		return ListView{}, err
	}
	view := ListView{
		Market:       policy.Market,
		Currency:     policy,
		Revision:     s.Revision(),
		FamilyMember: member,
		IsEmpty:      s.IsEmpty(),
		Items:        make([]LineView, 0, len(lines)),
	}
	for _, line := range lines {
		pv, err := productView(line.Item.Product, policy, false)
		if err != nil {
			return ListView{}, err
		}
		lv := LineView{ID: line.Item.ID, Product: pv, Condition: line.Item.Condition, Quantity: line.Item.Quantity}
		if lv.UnitPrice, err = money(line.UnitAdjustedPrice, policy); err != nil {
			return ListView{}, err
		}
		if lv.LineTotal, err = money(line.LineTotal, policy); err != nil {
			return ListView{}, err
		}
		view.Items = append(view.Items, lv)
	}
	if view.Offer.Subtotal, err = money(offer.Subtotal, policy); err != nil {
		return ListView{}, err
	}
	if view.Offer.FamilyDiscount, err = money(offer.FamilyDiscount, policy); err != nil {
		return ListView{}, err
	}
	if view.Offer.Total, err = money(offer.Total, policy); err != nil {
		return ListView{}, err
	}
	view.Offer.ItemCount = offer.ItemCount
	return view, nil
}
