package buyback_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-buyback/internal/buyback"
	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/pricing"
)

type memPersistence struct {
	blob    string
	saves   int
	clears  int
	loadErr error
	saveErr error
}

func (m *memPersistence) Load(context.Context) (string, error) {
	if m.loadErr != nil {
		return "", m.loadErr
	}
	return m.blob, nil
}

func (m *memPersistence) Save(_ context.Context, blob string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.blob = blob
	return nil
}

func (m *memPersistence) Clear(context.Context) error {
	m.clears++
	m.blob = ""
	return nil
}

func usPolicy(t *testing.T) currency.Policy {
	t.Helper()
	p, err := currency.PolicyFor("us")
	require.NoError(t, err)
	return p
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("item-%d", n)
	}
}

func product(id, price string) pricing.Product {
	return pricing.Product{ID: id, Code: "C-" + id, Name: "Product " + id, BasePrice: decimal.RequireFromString(price)}
}

func requireSameItems(t *testing.T, want, got []pricing.Item) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].ID, got[i].ID)
		require.Equal(t, want[i].Condition, got[i].Condition)
		require.Equal(t, want[i].Quantity, got[i].Quantity)
		require.Equal(t, want[i].Product.ID, got[i].Product.ID)
		require.True(t, want[i].Product.BasePrice.Equal(got[i].Product.BasePrice))
	}
}

func openStore(t *testing.T, p buyback.Persistence) *buyback.Store {
	t.Helper()
	return buyback.Open(context.Background(), buyback.Options{
		Policy:      usPolicy(t),
		Persistence: p,
		NewID:       sequentialIDs(),
	})
}

func TestStoreAddItemAndOffer(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, &memPersistence{})

	_, err := store.AddItem(ctx, product("chair", "150.00"), pricing.VeryGood, 2)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, product("lamp", "150.00"), pricing.WellUsed, 1)
	require.NoError(t, err)

	offer, err := store.Offer(true)
	require.NoError(t, err)
	require.Equal(t, "292.50", offer.Subtotal.StringFixed(2))
	require.Equal(t, "29.25", offer.FamilyDiscount.StringFixed(2))
	require.Equal(t, "321.75", offer.Total.StringFixed(2))
	require.Equal(t, 3, store.ItemCount())
	require.Equal(t, 2, store.Len())
	require.False(t, store.IsEmpty())

	plain, err := store.Offer(false)
	require.NoError(t, err)
	require.True(t, plain.Total.Equal(plain.Subtotal))
}

func TestAddItemKeepsDuplicatesSeparate(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, nil)
	a, err := store.AddItem(ctx, product("chair", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	b, err := store.AddItem(ctx, product("chair", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Equal(t, 2, store.Len())
}

func TestAddItemValidation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, nil)

	_, err := store.AddItem(ctx, product("bad", "-5"), pricing.LikeNew, 1)
	require.ErrorIs(t, err, buyback.ErrInvalidItemState)

	_, err = store.AddItem(ctx, product("bad", "5"), pricing.Condition(7), 1)
	require.ErrorIs(t, err, buyback.ErrInvalidItemState)

	id, err := store.AddItem(ctx, product("ok", "5"), pricing.LikeNew, 0)
	require.NoError(t, err)
	it, ok := store.Item(id)
	require.True(t, ok)
	require.Equal(t, 1, it.Quantity)
	require.Equal(t, 1, store.Len())
}

func TestAddItemRejectsDuplicateID(t *testing.T) {
	store := buyback.Open(context.Background(), buyback.Options{
		Policy: usPolicy(t),
		NewID:  func() string { return "same" },
	})
	_, err := store.AddItem(context.Background(), product("a", "1"), pricing.LikeNew, 1)
	require.NoError(t, err)
	_, err = store.AddItem(context.Background(), product("b", "1"), pricing.LikeNew, 1)
	require.ErrorIs(t, err, buyback.ErrInvalidItemState)
	require.Equal(t, 1, store.Len())
}

func TestUpdateQuantityClampsToOne(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, nil)
	id, err := store.AddItem(ctx, product("chair", "10"), pricing.LikeNew, 3)
	require.NoError(t, err)

	require.NoError(t, store.UpdateQuantity(ctx, id, 0))
	it, ok := store.Item(id)
	require.True(t, ok)
	require.Equal(t, 1, it.Quantity)

	require.NoError(t, store.UpdateQuantity(ctx, id, -4))
	it, _ = store.Item(id)
	require.Equal(t, 1, it.Quantity)

	require.ErrorIs(t, store.UpdateQuantity(ctx, "missing", 2), buyback.ErrItemNotFound)
}

func TestMaxQuantity(t *testing.T) {
	ctx := context.Background()
	store := buyback.Open(ctx, buyback.Options{Policy: usPolicy(t), MaxQuantity: 5})
	id, err := store.AddItem(ctx, product("chair", "10"), pricing.LikeNew, 9)
	require.NoError(t, err)
	it, _ := store.Item(id)
	require.Equal(t, 5, it.Quantity)
}

func TestUpdateCondition(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, nil)
	id, err := store.AddItem(ctx, product("chair", "100"), pricing.LikeNew, 1)
	require.NoError(t, err)

	require.NoError(t, store.UpdateCondition(ctx, id, pricing.WellUsed))
	offer, err := store.Offer(false)
	require.NoError(t, err)
	require.Equal(t, "45.00", offer.Total.StringFixed(2))

	require.ErrorIs(t, store.UpdateCondition(ctx, "missing", pricing.LikeNew), buyback.ErrItemNotFound)
	require.ErrorIs(t, store.UpdateCondition(ctx, id, pricing.Condition(0)), buyback.ErrInvalidItemState)
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	store := openStore(t, p)
	_, err := store.AddItem(ctx, product("keep", "20"), pricing.LikeNew, 2)
	require.NoError(t, err)

	beforeCount := store.ItemCount()
	before, err := store.Offer(false)
	require.NoError(t, err)

	id, err := store.AddItem(ctx, product("drop", "30"), pricing.VeryGood, 1)
	require.NoError(t, err)
	require.True(t, store.RemoveItem(ctx, id))
	saves := p.saves
	require.False(t, store.RemoveItem(ctx, id))
	require.Equal(t, saves, p.saves, "no-op removal must not persist")

	after, err := store.Offer(false)
	require.NoError(t, err)
	require.Equal(t, beforeCount, store.ItemCount())
	require.True(t, before.Subtotal.Equal(after.Subtotal))
}

func TestItemsPreserveInsertionOrderAndAreCopies(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.AddItem(ctx, product(id, "1"), pricing.LikeNew, 1)
		require.NoError(t, err)
	}
	items := store.Items()
	require.Equal(t, []string{"item-1", "item-2", "item-3"}, []string{items[0].ID, items[1].ID, items[2].ID})
	items[0].Quantity = 99
	first, _ := store.Item("item-1")
	require.Equal(t, 1, first.Quantity)
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	store := openStore(t, p)
	_, err := store.AddItem(ctx, product("a", "150.00"), pricing.VeryGood, 2)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, product("b", "12.345"), pricing.WellUsed, 4)
	require.NoError(t, err)

	reopened := openStore(t, p)
	requireSameItems(t, store.Items(), reopened.Items())
	require.Equal(t, store.Revision(), reopened.Revision())
}

func TestOpenFailsOpenOnCorruptBlob(t *testing.T) {
	for _, blob := range []string{"{not json", `{"v":99,"items":[]}`, `[1,2,3]`} {
		var failures []string
		store := buyback.Open(context.Background(), buyback.Options{
			Policy:         usPolicy(t),
			Persistence:    &memPersistence{blob: blob},
			OnPersistError: func(op string, _ error) { failures = append(failures, op) },
		})
		require.True(t, store.IsEmpty(), blob)
		require.Equal(t, []string{"load"}, failures, blob)
	}
}

func TestOpenFailsOpenOnLoadError(t *testing.T) {
	store := openStore(t, &memPersistence{loadErr: errors.New("quota")})
	require.True(t, store.IsEmpty())
}

func TestOpenIgnoresOtherMarket(t *testing.T) {
	blob, err := buyback.Encode(buyback.Snapshot{Revision: 3, Market: "se", Items: []pricing.Item{
		{ID: "x", Product: product("a", "1"), Condition: pricing.LikeNew, Quantity: 1},
	}})
	require.NoError(t, err)
	store := openStore(t, &memPersistence{blob: blob})
	require.True(t, store.IsEmpty())
}

func TestSaveFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	var failures []string
	store := buyback.Open(ctx, buyback.Options{
		Policy:         usPolicy(t),
		Persistence:    &memPersistence{saveErr: errors.New("disk full")},
		OnPersistError: func(op string, _ error) { failures = append(failures, op) },
	})
	id, err := store.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, store.Len())
	require.Equal(t, []string{"save"}, failures)
}

func TestStoreClearRemovesPersistedList(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	store := openStore(t, p)
	_, err := store.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)

	store.Clear(ctx)
	require.True(t, store.IsEmpty())
	require.Equal(t, 1, p.clears)
	require.Empty(t, p.blob)
	require.True(t, openStore(t, p).IsEmpty())
}

func TestStaleAndReload(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	tabA := openStore(t, p)
	tabB := openStore(t, p)

	_, err := tabA.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	require.False(t, tabA.Stale(ctx))
	require.True(t, tabB.Stale(ctx))

	tabB.Reload(ctx)
	require.False(t, tabB.Stale(ctx))
	requireSameItems(t, tabA.Items(), tabB.Items())
}

func TestStaleAfterClearAndAddInAnotherTab(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	frozen := func() time.Time { return time.Unix(0, 0) }
	open := func() *buyback.Store {
		return buyback.Open(ctx, buyback.Options{Policy: usPolicy(t), Persistence: p, NewID: sequentialIDs(), Now: frozen})
	}

	tabA := open()
	_, err := tabA.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)

	tabB := open()
	tabB.Clear(ctx)
	require.False(t, tabB.Stale(ctx))
	require.True(t, tabA.Stale(ctx))

	_, err = tabB.AddItem(ctx, product("b", "20"), pricing.WellUsed, 1)
	require.NoError(t, err)
	require.Greater(t, tabB.Revision(), int64(1))
	require.True(t, tabA.Stale(ctx))
	require.False(t, tabB.Stale(ctx))
}

func TestRevisionsFollowTheClock(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	var tick int64
	clock := func() time.Time {
		tick += 100
		return time.UnixMicro(tick)
	}
	open := func() *buyback.Store {
		return buyback.Open(ctx, buyback.Options{Policy: usPolicy(t), Persistence: p, NewID: sequentialIDs(), Now: clock})
	}

	tabA := open()
	tabB := open()
	_, err := tabA.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	first := tabA.Revision()

	tabB.Clear(ctx)
	_, err = tabB.AddItem(ctx, product("b", "20"), pricing.LikeNew, 1)
	require.NoError(t, err)
	require.Greater(t, tabB.Revision(), first)
	require.True(t, tabA.Stale(ctx))
}

func TestUpdateItemSavesOnce(t *testing.T) {
	ctx := context.Background()
	p := &memPersistence{}
	var changes []buyback.Change
	store := buyback.Open(ctx, buyback.Options{
		Policy:      usPolicy(t),
		Persistence: p,
		NewID:       sequentialIDs(),
		MaxQuantity: 5,
		OnChange:    func(_ context.Context, c buyback.Change) { changes = append(changes, c) },
	})
	id, err := store.AddItem(ctx, product("chair", "100"), pricing.LikeNew, 1)
	require.NoError(t, err)

	condition, quantity := pricing.VeryGood, 9
	require.NoError(t, store.UpdateItem(ctx, id, &condition, &quantity))
	require.Equal(t, 2, p.saves)
	require.Len(t, changes, 2)
	require.Equal(t, buyback.ChangeUpdated, changes[1].Kind)
	it, _ := store.Item(id)
	require.Equal(t, pricing.VeryGood, it.Condition)
	require.Equal(t, 5, it.Quantity)

	require.NoError(t, store.UpdateItem(ctx, id, nil, nil))
	require.Equal(t, 2, p.saves)

	bad := pricing.Condition(0)
	require.ErrorIs(t, store.UpdateItem(ctx, id, &bad, &quantity), buyback.ErrInvalidItemState)
	require.ErrorIs(t, store.UpdateItem(ctx, "missing", nil, &quantity), buyback.ErrItemNotFound)
	require.Equal(t, 2, p.saves)
}

func TestOnChangeReceivesMutations(t *testing.T) {
	ctx := context.Background()
	var kinds []buyback.ChangeKind
	store := buyback.Open(ctx, buyback.Options{
		Policy:   usPolicy(t),
		NewID:    sequentialIDs(),
		OnChange: func(_ context.Context, c buyback.Change) { kinds = append(kinds, c.Kind) },
	})
	id, err := store.AddItem(ctx, product("a", "10"), pricing.LikeNew, 1)
	require.NoError(t, err)
	require.NoError(t, store.UpdateQuantity(ctx, id, 2))
	store.RemoveItem(ctx, id)
	store.RemoveItem(ctx, id)
	store.Clear(ctx)
	require.Equal(t, []buyback.ChangeKind{
		buyback.ChangeAdded, buyback.ChangeUpdated, buyback.ChangeRemoved, buyback.ChangeCleared,
	}, kinds)
}
