// Package catalog supplies the products a shopper can add to a buyback list.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/pricing"
)

// ErrProductNotFound is returned when a product id is not offered in a market.
var ErrProductNotFound = errors.New("catalog: product not found")

// Source lists the buyback catalog of a market.
type Source interface {
	Products(ctx context.Context, market string) ([]pricing.Product, error)
}

// record is the JSON shape shared by the seed file, the remote API and the cache.
type record struct {
	ID        string          `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"basePrice"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

func (r record) product() pricing.Product {
	return pricing.Product{ID: r.ID, Code: r.Code, Name: r.Name, BasePrice: r.BasePrice, ImageURL: r.ImageURL}
}

func toRecords(products []pricing.Product) []record {
	out := make([]record, len(products))
	for i, p := range products {
		out[i] = record{ID: p.ID, Code: p.Code, Name: p.Name, BasePrice: p.BasePrice, ImageURL: p.ImageURL}
	}
	return out
}

func toProducts(records []record) []pricing.Product {
	out := make([]pricing.Product, len(records))
	for i, r := range records {
		out[i] = r.product()
	}
	return out
}

// validate rejects products the pricing engine cannot price.
func validate(p pricing.Product) error {
	if p.ID == "" {
		return fmt.Errorf("product without id: %w", pricing.ErrInvalidItemState)
	}
	if p.BasePrice.IsNegative() {
		return fmt.Errorf("product %s has negative base price: %w", p.ID, pricing.ErrInvalidItemState)
	}
	return nil
}
