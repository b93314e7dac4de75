// Package lock serialises read-modify-write cycles on a shopper's buyback list.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the context ends before the lock is taken.
var ErrNotAcquired = errors.New("lock: not acquired")

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Redis provides a Redis-backed distributed lock so several API replicas can
// share one list store.
type Redis struct {
	R            *redis.Client
	RetryBackoff time.Duration
	Prefix       string
}

// WithLock executes fn while holding a lock for key. The lock is released
// even if fn returns an error, and only by the holder that set it.
func (l Redis) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	lockKey := l.prefix() + key
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
			}
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			defer func() {
				_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{lockKey}, token).Err()
			}()
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l Redis) prefix() string {
	if l.Prefix == "" {
		return "lock:"
	}
	return l.Prefix
}
