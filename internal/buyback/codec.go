package buyback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-buyback/internal/pricing"
)

// BlobVersion identifies the current persisted layout.
const BlobVersion = 1

// ErrCorruptBlob is returned when a persisted blob cannot be read.
var ErrCorruptBlob = errors.New("corrupt buyback blob")

// Snapshot is the persisted form of a store.
type Snapshot struct {
	Revision int64
	Market   string
	Items    []pricing.Item
}

type envelope struct {
	Version  int               `json:"v"`
	Revision int64             `json:"rev"`
	Market   string            `json:"market,omitempty"`
	Items    []json.RawMessage `json:"items"`
}

type itemRecord struct {
	ID        string        `json:"id"`
	Product   productRecord `json:"product"`
	Condition string        `json:"condition"`
	Quantity  int           `json:"quantity"`
}

type productRecord struct {
	ID        string          `json:"id"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name,omitempty"`
	BasePrice decimal.Decimal `json:"basePrice"`
	ImageURL  string          `json:"imageUrl,omitempty"`
}

// Encode serialises a snapshot into the flat string stored by persistence adapters.
func Encode(s Snapshot) (string, error) {
	env := envelope{
		Version:  BlobVersion,
		Revision: s.Revision,
		Market:   s.Market,
		Items:    make([]json.RawMessage, 0, len(s.Items)),
	}
	for _, it := range s.Items {
		raw, err := json.Marshal(itemRecord{
			ID: it.ID,
			Product: productRecord{
				ID:        it.Product.ID,
				Code:      it.Product.Code,
				Name:      it.Product.Name,
				BasePrice: it.Product.BasePrice,
				ImageURL:  it.Product.ImageURL,
			},
			Condition: it.Condition.String(),
			Quantity:  it.Quantity,
		})
		if err != nil {
			return "", fmt.Errorf("encode item %s: %w", it.ID, err)
		}
		env.Items = append(env.Items, raw)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a persisted blob. Entries that fail validation or repeat an
// earlier id are dropped and counted in skipped; an unreadable envelope
// returns ErrCorruptBlob.
func Decode(blob string) (snap Snapshot, skipped int, err error) {
	if strings.TrimSpace(blob) == "" {
		return Snapshot{}, 0, nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return Snapshot{}, 0, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if env.Version != BlobVersion {
		return Snapshot{}, 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptBlob, env.Version)
	}
	snap.Revision = env.Revision
	snap.Market = env.Market
	seen := make(map[string]struct{}, len(env.Items))
	for _, raw := range env.Items {
		it, ok := decodeItem(raw)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			skipped++
			continue
		}
		seen[it.ID] = struct{}{}
		snap.Items = append(snap.Items, it)
	}
	return snap, skipped, nil
}

func decodeItem(raw json.RawMessage) (pricing.Item, bool) {
	var rec itemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return pricing.Item{}, false
	}
	if strings.TrimSpace(rec.ID) == "" {
		return pricing.Item{}, false
	}
	cond, err := pricing.ParseCondition(rec.Condition)
	if err != nil {
		return pricing.Item{}, false
	}
	it := pricing.Item{
		ID: rec.ID,
		Product: pricing.Product{
			ID:        rec.Product.ID,
			Code:      rec.Product.Code,
			Name:      rec.Product.Name,
			BasePrice: rec.Product.BasePrice,
			ImageURL:  rec.Product.ImageURL,
		},
		Condition: cond,
		Quantity:  rec.Quantity,
	}
	if pricing.Validate(it) != nil {
		return pricing.Item{}, false
	}
	return it, true
}
