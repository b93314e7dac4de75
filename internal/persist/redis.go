package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores values as plain strings with a sliding TTL.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
}

func (r Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if r.Client == nil {
		return "", false, errors.New("persist: redis client not configured")
	}
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	if r.TTL > 0 {
		_ = r.Client.Expire(ctx, key, r.TTL).Err()
	}
	return v, true, nil
}

func (r Redis) Set(ctx context.Context, key, value string) error {
	if r.Client == nil {
		return errors.New("persist: redis client not configured")
	}
	if err := r.Client.Set(ctx, key, value, r.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r Redis) Delete(ctx context.Context, key string) error {
	if r.Client == nil {
		return errors.New("persist: redis client not configured")
	}
	if err := r.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
