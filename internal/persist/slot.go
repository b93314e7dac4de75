// Package persist provides the string key-value backends buyback lists are saved to.
package persist

import (
	"context"
	"errors"
	"fmt"
)

// ErrBlobTooLarge is returned when a value exceeds the backend quota.
var ErrBlobTooLarge = errors.New("persist: blob exceeds size limit")

// ErrUnavailable is returned when a backend is temporarily refusing calls.
var ErrUnavailable = errors.New("persist: backend unavailable")

// KV is a durable store of string values.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Slot binds one key of a KV. It satisfies the buyback persistence adapter.
type Slot struct {
	KV       KV
	Key      string
	MaxBytes int
}

// Load returns the stored value or an empty string.
func (s Slot) Load(ctx context.Context) (string, error) {
	if s.KV == nil {
		return "", nil
	}
	value, ok, err := s.KV.Get(ctx, s.Key)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", s.Key, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}

// Save writes value, refusing values above MaxBytes.
func (s Slot) Save(ctx context.Context, value string) error {
	if s.KV == nil {
		return nil
	}
	if s.MaxBytes > 0 && len(value) > s.MaxBytes {
		return fmt.Errorf("save %s (%d bytes): %w", s.Key, len(value), ErrBlobTooLarge)
	}
	if err := s.KV.Set(ctx, s.Key, value); err != nil {
		return fmt.Errorf("save %s: %w", s.Key, err)
	}
	return nil
}

// Clear removes the stored value.
func (s Slot) Clear(ctx context.Context) error {
	if s.KV == nil {
		return nil
	}
	if err := s.KV.Delete(ctx, s.Key); err != nil {
		return fmt.Errorf("clear %s: %w", s.Key, err)
	}
	return nil
}

// Key builds the storage key for a shopper session in a market.
func Key(market, sessionID string) string {
	return "buyback:" + market + ":" + sessionID
}
