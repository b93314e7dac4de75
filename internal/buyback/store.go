// Package buyback holds a shopper's trade-in list and exposes its offer.
package buyback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/pricing"
)

var nopLogger = zerolog.Nop()

// ErrItemNotFound is returned when a mutation references an id that is not in the list.
var ErrItemNotFound = errors.New("buyback item not found")

// ErrInvalidItemState re-exports the pricing error so callers need a single import.
var ErrInvalidItemState = pricing.ErrInvalidItemState

// Persistence stores the serialised list in a string-only durable store.
// Load returns an empty string when nothing has been saved.
type Persistence interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, blob string) error
	Clear(ctx context.Context) error
}

// ChangeKind names a list mutation.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "item_added"
	ChangeUpdated ChangeKind = "item_updated"
	ChangeRemoved ChangeKind = "item_removed"
	ChangeCleared ChangeKind = "cleared"
)

// Change describes a completed mutation.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Market    string     `json:"market"`
	ItemID    string     `json:"itemId,omitempty"`
	Lines     int        `json:"lines"`
	ItemCount int        `json:"itemCount"`
	Revision  int64      `json:"revision"`
}

// Options configures a Store.
type Options struct {
	Policy      currency.Policy
	Persistence Persistence
	Logger      *zerolog.Logger
	// NewID generates item ids; defaults to random UUIDs.
	NewID func() string
	// MaxQuantity caps quantities when positive.
	MaxQuantity int
	// OnChange is invoked after every mutation.
	OnChange func(context.Context, Change)
	// OnPersistError is invoked when loading or saving fails. op is "load" or "save" or "clear".
	OnPersistError func(op string, err error)
	// OnSkipped receives the number of unreadable entries dropped on restore.
	OnSkipped func(n int)
	// Now seeds revision stamps; defaults to time.Now.
	Now func() time.Time
}

// Store is the authoritative list for one shopper session. It is not safe
// for concurrent use; callers serialise access per session.
type Store struct {
	policy    currency.Policy
	persist   Persistence
	logger    *zerolog.Logger
	newID     func() string
	maxQty    int
	onChange  func(context.Context, Change)
	onPersist func(string, error)
	onSkipped func(int)
	now       func() time.Time

	items    []pricing.Item
	revision int64
	// stamp is the highest revision this store has loaded or written. It
	// survives Clear so stamps are never reused.
	stamp int64
}

// Open builds a store and restores any previously persisted list. Missing or
// unreadable data yields an empty store.
func Open(ctx context.Context, opts Options) *Store {
	s := &Store{
		policy:    opts.Policy,
		persist:   opts.Persistence,
		logger:    opts.Logger,
		newID:     opts.NewID,
		maxQty:    opts.MaxQuantity,
		onChange:  opts.OnChange,
		onPersist: opts.OnPersistError,
		onSkipped: opts.OnSkipped,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = &nopLogger
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.restore(ctx)
	return s
}

// Policy returns the currency policy the store prices with.
func (s *Store) Policy() currency.Policy { return s.policy }

// Revision returns the revision of the last loaded or saved state.
func (s *Store) Revision() int64 { return s.revision }

// AddItem appends a new line for the product and returns its id. Identical
// product and condition pairs are kept as separate lines.
func (s *Store) AddItem(ctx context.Context, product pricing.Product, condition pricing.Condition, quantity int) (string, error) {
	it := pricing.Item{
		ID:        s.newID(),
		Product:   product,
		Condition: condition,
		Quantity:  s.clamp(quantity),
	}
	if err := pricing.Validate(it); err != nil {
		return "", err
	}
	if s.index(it.ID) >= 0 {
		return "", fmt.Errorf("duplicate item id %q: %w", it.ID, ErrInvalidItemState)
	}
	s.items = append(s.items, it)
	s.commit(ctx, ChangeAdded, it.ID)
	return it.ID, nil
}

// UpdateCondition changes the grade of an existing line.
func (s *Store) UpdateCondition(ctx context.Context, id string, condition pricing.Condition) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("item %q: %w", id, ErrItemNotFound)
	}
	if !condition.Valid() {
		return fmt.Errorf("condition %d: %w", condition, ErrInvalidItemState)
	}
	s.items[i].Condition = condition
	s.commit(ctx, ChangeUpdated, id)
	return nil
}

// UpdateQuantity sets the quantity of an existing line. Values below one are
// raised to one; removing a line requires RemoveItem.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("item %q: %w", id, ErrItemNotFound)
	}
	s.items[i].Quantity = s.clamp(quantity)
	s.commit(ctx, ChangeUpdated, id)
	return nil
}

// UpdateItem applies a condition and a quantity change to one line and saves
// once. Nil arguments leave the field unchanged.
func (s *Store) UpdateItem(ctx context.Context, id string, condition *pricing.Condition, quantity *int) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("item %q: %w", id, ErrItemNotFound)
	}
	if condition != nil && !condition.Valid() {
		return fmt.Errorf("condition %d: %w", *condition, ErrInvalidItemState)
	}
	if condition == nil && quantity == nil {
		return nil
	}
	if condition != nil {
		s.items[i].Condition = *condition
	}
	if quantity != nil {
		s.items[i].Quantity = s.clamp(*quantity)
	}
	s.commit(ctx, ChangeUpdated, id)
	return nil
}

// RemoveItem deletes a line. Unknown ids are ignored; the result reports
// whether a line was removed.
func (s *Store) RemoveItem(ctx context.Context, id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	s.commit(ctx, ChangeRemoved, id)
	return true
}

// Clear empties the list and deletes the persisted copy. The next save still
// gets a stamp above every earlier one.
func (s *Store) Clear(ctx context.Context) {
	s.items = nil
	s.revision = 0
	if s.persist != nil {
		if err := s.persist.Clear(ctx); err != nil {
			s.persistFailed("clear", err)
		}
	}
	s.notify(ctx, ChangeCleared, "")
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []pricing.Item {
	out := make([]pricing.Item, len(s.items))
	copy(out, s.items)
	return out
}

// Item returns the line with the given id.
func (s *Store) Item(id string) (pricing.Item, bool) {
	i := s.index(id)
	if i < 0 {
		return pricing.Item{}, false
	}
	return s.items[i], true
}

// Offer computes the current offer.
func (s *Store) Offer(familyMember bool) (pricing.Offer, error) {
	return pricing.Aggregate(s.items, familyMember, s.policy)
}

// Quote computes the offer together with per-line prices.
func (s *Store) Quote(familyMember bool) ([]pricing.Line, pricing.Offer, error) {
	return pricing.Quote(s.items, familyMember, s.policy)
}

// IsEmpty reports whether the list has no lines.
func (s *Store) IsEmpty() bool { return len(s.items) == 0 }

// ItemCount sums the quantities of all lines.
func (s *Store) ItemCount() int {
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Len returns the number of lines.
func (s *Store) Len() int { return len(s.items) }

// Stale reports whether another writer has changed the persisted list since
// this store last loaded or saved it.
func (s *Store) Stale(ctx context.Context) bool {
	if s.persist == nil {
		return false
	}
	blob, err := s.persist.Load(ctx)
	if err != nil {
		s.persistFailed("load", err)
		return false
	}
	snap, _, err := Decode(blob)
	if err != nil {
		return true
	}
	stale := snap.Revision != s.revision
	if stale {
		s.logger.Warn().
			Str("market", s.policy.Market).
			Int64("revision", s.revision).
			Int64("persisted_revision", snap.Revision).
			Msg("buyback list may be stale")
	}
	return stale
}

// Reload discards in-memory state and restores the persisted list.
func (s *Store) Reload(ctx context.Context) {
	s.items = nil
	s.revision = 0
	s.restore(ctx)
}

func (s *Store) restore(ctx context.Context) {
	if s.persist == nil {
		return
	}
	blob, err := s.persist.Load(ctx)
	if err != nil {
		s.persistFailed("load", err)
		return
	}
	snap, skipped, err := Decode(blob)
	if err != nil {
		s.persistFailed("load", err)
		return
	}
	if snap.Market != "" && s.policy.Market != "" && snap.Market != s.policy.Market {
		s.logger.Warn().
			Str("market", s.policy.Market).
			Str("persisted_market", snap.Market).
			Msg("ignoring buyback list saved for another market")
		return
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("dropped unreadable buyback items")
		if s.onSkipped != nil {
			s.onSkipped(skipped)
		}
	}
	s.items = snap.Items
	s.revision = snap.Revision
	s.stamp = max(s.stamp, snap.Revision)
	for i := range s.items {
		s.items[i].Quantity = s.clamp(s.items[i].Quantity)
	}
}

func (s *Store) commit(ctx context.Context, kind ChangeKind, id string) {
	s.save(ctx)
	s.notify(ctx, kind, id)
}

func (s *Store) save(ctx context.Context) {
	if s.persist == nil {
		return
	}
	next := max(s.stamp+1, s.now().UnixMicro())
	blob, err := Encode(Snapshot{Revision: next, Market: s.policy.Market, Items: s.items})
	if err != nil {
		s.persistFailed("save", err)
		return
	}
	if err := s.persist.Save(ctx, blob); err != nil {
		s.persistFailed("save", err)
		return
	}
	s.revision = next
	s.stamp = next
}

func (s *Store) notify(ctx context.Context, kind ChangeKind, id string) {
	if s.onChange == nil {
		return
	}
	s.onChange(ctx, Change{
		Kind:      kind,
		Market:    s.policy.Market,
		ItemID:    id,
		Lines:     len(s.items),
		ItemCount: s.ItemCount(),
		Revision:  s.revision,
	})
}

func (s *Store) persistFailed(op string, err error) {
	s.logger.Warn().Err(err).Str("op", op).Str("market", s.policy.Market).Msg("buyback persistence failed")
	if s.onPersist != nil {
		s.onPersist(op, err)
	}
}

func (s *Store) clamp(quantity int) int {
	if quantity < 1 {
		quantity = 1
	}
	if s.maxQty > 0 && quantity > s.maxQty {
		quantity = s.maxQty
	}
	return quantity
}

func (s *Store) index(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
