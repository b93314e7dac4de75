package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/pricing"
)

// Querier is the subset of pgxpool.Pool used by Postgres.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listProductsSQL = `SELECT id, code, name, base_price::text, image_url
FROM buyback_products
WHERE market = $1 AND active
ORDER BY sort_order, name`

// Postgres reads the catalog from the buyback_products table.
type Postgres struct {
	DB Querier
}

// Products lists the active products of a market.
func (p Postgres) Products(ctx context.Context, market string) ([]pricing.Product, error) {
	rows, err := p.DB.Query(ctx, listProductsSQL, market)
	if err != nil {
		return nil, fmt.Errorf("catalog: query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (pricing.Product, error) {
		var (
			prod  pricing.Product
			price string
		)
		if err := row.Scan(&prod.ID, &prod.Code, &prod.Name, &price, &prod.ImageURL); err != nil {
			return pricing.Product{}, err
		}
		base, err := decimal.NewFromString(price)
		if err != nil {
			return pricing.Product{}, fmt.Errorf("base price of %s: %w", prod.ID, err)
		}
		prod.BasePrice = base
		return prod, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan products: %w", err)
	}
	return products, nil
}
