package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-buyback/internal/pricing"
)

// Service reads products through an optional cache and drops products the
// pricing engine would reject.
type Service struct {
	source Source
	cache  *Cache
	logger zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source Source
	Cache  *Cache
	Logger zerolog.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("catalog: source is required")
	}
	return &Service{source: cfg.Source, cache: cfg.Cache, logger: cfg.Logger}, nil
}

func cacheKey(market string) string {
	return "catalog:v1:" + market + ":products"
}

// Products returns the valid products of a market in catalog order.
func (s *Service) Products(ctx context.Context, market string) ([]pricing.Product, error) {
	market = strings.ToLower(strings.TrimSpace(market))
	key := cacheKey(market)

	var cached []record
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("market", market).Msg("catalog cache read failed")
	}
	if hit {
		return toProducts(cached), nil
	}

	products, err := s.source.Products(ctx, market)
	if err != nil {
		return nil, err
	}
	valid := products[:0:0]
	for _, p := range products {
		if err := validate(p); err != nil {
			s.logger.Warn().Err(err).Str("market", market).Msg("catalog product skipped")
			continue
		}
		valid = append(valid, p)
	}
	if err := s.cache.SetJSON(ctx, key, toRecords(valid)); err != nil {
		s.logger.Warn().Err(err).Str("market", market).Msg("catalog cache write failed")
	}
	return valid, nil
}

// Product looks up one product by id.
func (s *Service) Product(ctx context.Context, market, id string) (pricing.Product, error) {
	products, err := s.Products(ctx, market)
	if err != nil {
		return pricing.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return pricing.Product{}, fmt.Errorf("%s in %s: %w", id, market, ErrProductNotFound)
}

// Invalidate drops the cached catalog of the given markets.
func (s *Service) Invalidate(ctx context.Context, markets ...string) error {
	keys := make([]string, 0, len(markets))
	for _, m := range markets {
		keys = append(keys, cacheKey(strings.ToLower(strings.TrimSpace(m))))
	}
	return s.cache.Delete(ctx, keys...)
}
