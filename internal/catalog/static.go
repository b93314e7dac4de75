package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-buyback/internal/pricing"
)

//go:embed seed/products.json
var seedJSON []byte

// Static serves a fixed catalog keyed by market.
type Static struct {
	byMarket map[string][]pricing.Product
}

// NewStatic parses a {"market": [products...]} document.
func NewStatic(data []byte) (*Static, error) {
	var doc map[string][]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse static catalog: %w", err)
	}
	s := &Static{byMarket: make(map[string][]pricing.Product, len(doc))}
	for market, records := range doc {
		s.byMarket[strings.ToLower(market)] = toProducts(records)
	}
	return s, nil
}

// Seed returns the catalog bundled with the binary.
func Seed() (*Static, error) {
	return NewStatic(seedJSON)
}

// Products returns a copy of the market's catalog.
func (s *Static) Products(_ context.Context, market string) ([]pricing.Product, error) {
	products := s.byMarket[strings.ToLower(market)]
	return append([]pricing.Product(nil), products...), nil
}

// Markets lists the markets present in the catalog.
func (s *Static) Markets() []string {
	out := make([]string, 0, len(s.byMarket))
	for m := range s.byMarket {
		out = append(out, m)
	}
	return out
}
