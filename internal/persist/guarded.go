package persist

import (
	"context"
	"errors"

	"github.com/noah-isme/backend-buyback/internal/resilience"
)

// Guarded routes calls through a circuit breaker so an unhealthy backend
// fails fast instead of stalling every request.
type Guarded struct {
	KV      KV
	Breaker *resilience.Breaker
}

func (g Guarded) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		var inner error
		value, ok, inner = g.KV.Get(ctx, key)
		return inner
	})
	return value, ok, err
}

func (g Guarded) Set(ctx context.Context, key, value string) error {
	return g.run(ctx, func(ctx context.Context) error { return g.KV.Set(ctx, key, value) })
}

func (g Guarded) Delete(ctx context.Context, key string) error {
	return g.run(ctx, func(ctx context.Context) error { return g.KV.Delete(ctx, key) })
}

func (g Guarded) run(ctx context.Context, fn func(context.Context) error) error {
	if g.Breaker == nil {
		return fn(ctx)
	}
	err := g.Breaker.Run(ctx, fn)
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}
