package repository

import (
	"context"
	"testing"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCartTest(t *testing.T) (*docstore.GormStore, CartRepository) {
	_, store, cleanup, err := db.SetupTestStore()
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return store, NewCartRepository(store)
}

func TestCartRepository_FindByOwnerMissing(t *testing.T) {
	_, repo := setupCartTest(t)

	cart, err := repo.FindByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", cart.OwnerID)
	assert.Empty(t, cart.Items)
}

func TestCartRepository_SaveAndFind(t *testing.T) {
	_, repo := setupCartTest(t)
	ctx := context.Background()
	items := []model.CartItem{
		{ProductID: "a", Name: "Widget", Quantity: 2},
		{ProductID: "b", Name: "Bolt", Quantity: 1},
	}

	require.NoError(t, repo.SaveItems(ctx, "u1", items))

	cart, err := repo.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, items, cart.Items)
	assert.Equal(t, 3, cart.TotalQuantity())
	assert.False(t, cart.UpdatedAt.IsZero())
}

func TestCartRepository_SaveItemsMergesWithOtherFields(t *testing.T) {
	store, repo := setupCartTest(t)
	ctx := context.Background()
	require.NoError(t, store.WriteReplace(ctx, CartsCollection, "u1", docstore.Fields{"coupon": "SPRING"}))

	require.NoError(t, repo.SaveItems(ctx, "u1", []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 1}}))

	doc, err := store.Get(ctx, CartsCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "SPRING", doc.Fields["coupon"])
}

func TestCartRepository_StripProduct(t *testing.T) {
	store, repo := setupCartTest(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveItems(ctx, "u2", []model.CartItem{
		{ProductID: "p1", Name: "One", Quantity: 3},
		{ProductID: "p2", Name: "Two", Quantity: 1},
	}))

	removed, err := repo.StripProduct(ctx, "u2", "p1")
	require.NoError(t, err)
	assert.True(t, removed)

	cart, err := repo.FindByOwner(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{{ProductID: "p2", Name: "Two", Quantity: 1}}, cart.Items)

	before, err := store.Get(ctx, CartsCollection, "u2")
	require.NoError(t, err)
	removed, err = repo.StripProduct(ctx, "u2", "p1")
	require.NoError(t, err)
	assert.False(t, removed)
	after, err := store.Get(ctx, CartsCollection, "u2")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "no-op strip must not write")

	removed, err = repo.StripProduct(ctx, "ghost", "p1")
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = store.Get(ctx, CartsCollection, "ghost")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestCartRepository_FindAll(t *testing.T) {
	_, repo := setupCartTest(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveItems(ctx, "u1", []model.CartItem{{ProductID: "p1", Name: "One", Quantity: 1}}))
	require.NoError(t, repo.SaveItems(ctx, "u2", nil))

	carts, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, carts, 2)
	assert.True(t, carts[0].Contains("p1"))
	assert.Empty(t, carts[1].Items)
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want []model.CartItem
	}{
		{name: "missing field", raw: nil, want: []model.CartItem{}},
		{name: "not a list", raw: "oops", want: []model.CartItem{}},
		{name: "map instead of list", raw: map[string]interface{}{"id": "a"}, want: []model.CartItem{}},
		{
			name: "json numbers",
			raw:  []interface{}{map[string]interface{}{"id": "a", "name": "Widget", "quantity": float64(2)}},
			want: []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 2}},
		},
		{
			name: "firestore integers",
			raw:  []interface{}{map[string]interface{}{"id": "a", "name": "Widget", "quantity": int64(4)}},
			want: []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 4}},
		},
		{
			name: "malformed entries dropped",
			raw: []interface{}{
				"junk",
				map[string]interface{}{"name": "no id", "quantity": 1},
				map[string]interface{}{"id": "zero", "quantity": 0},
				map[string]interface{}{"id": "frac", "quantity": 1.5},
				map[string]interface{}{"id": "noqty"},
				map[string]interface{}{"id": "ok", "name": "Fine", "quantity": 1},
			},
			want: []model.CartItem{{ProductID: "ok", Name: "Fine", Quantity: 1}},
		},
		{
			name: "duplicates folded",
			raw: []interface{}{
				map[string]interface{}{"id": "a", "name": "Widget", "quantity": 1},
				map[string]interface{}{"id": "b", "name": "Bolt", "quantity": 1},
				map[string]interface{}{"id": "a", "name": "Widget", "quantity": 2},
			},
			want: []model.CartItem{
				{ProductID: "a", Name: "Widget", Quantity: 3},
				{ProductID: "b", Name: "Bolt", Quantity: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeItems(tt.raw))
		})
	}
}

func TestDecodeCartSnapshotOfMissingDocument(t *testing.T) {
	snap := docstore.Snapshot{Query: docstore.DocQuery(CartsCollection, "u1"), Docs: []docstore.Document{}}
	assert.Equal(t, []model.CartItem{}, DecodeCartSnapshot(snap))
}

func TestCartRepository_ReplaceItemsAppliesFilter(t *testing.T) {
	store, repo := setupCartTest(t)
	ctx := context.Background()
	require.NoError(t, store.WriteReplace(ctx, CartsCollection, "u1", docstore.Fields{"coupon": "SPRING"}))

	dropB := func(_ context.Context, items []model.CartItem) ([]model.CartItem, error) {
		out, _ := model.RemoveProduct(items, "b")
		return out, nil
	}
	written, err := repo.ReplaceItems(ctx, "u1", []model.CartItem{
		{ProductID: "a", Name: "Widget", Quantity: 1},
		{ProductID: "b", Name: "Bolt", Quantity: 2},
	}, dropB)
	require.NoError(t, err)

	want := []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 1}}
	assert.Equal(t, want, written)

	cart, err := repo.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, cart.Items)

	doc, err := store.Get(ctx, CartsCollection, "u1")
	require.NoError(t, err)
	assert.Equal(t, "SPRING", doc.Fields["coupon"])
}

func TestCartRepository_ReplaceItemsFilterErrorWritesNothing(t *testing.T) {
	_, repo := setupCartTest(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveItems(ctx, "u1", []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 1}}))

	failing := func(context.Context, []model.CartItem) ([]model.CartItem, error) {
		return nil, assert.AnError
	}
	_, err := repo.ReplaceItems(ctx, "u1", nil, failing)
	assert.ErrorIs(t, err, assert.AnError)

	cart, err := repo.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestDecodeItems_KeepsIDsVerbatim(t *testing.T) {
	items := DecodeItems([]interface{}{
		map[string]interface{}{"id": "a", "name": "Widget", "quantity": 1},
		map[string]interface{}{"id": "a ", "name": "Widget spaced", "quantity": 2},
		map[string]interface{}{"id": " a", "name": " Padded ", "quantity": 3},
	})

	assert.Equal(t, []model.CartItem{
		{ProductID: "a", Name: "Widget", Quantity: 1},
		{ProductID: "a ", Name: "Widget spaced", Quantity: 2},
		{ProductID: " a", Name: " Padded ", Quantity: 3},
	}, items)
}

func TestCartRepository_SpacedIDsRoundTrip(t *testing.T) {
	_, repo := setupCartTest(t)
	ctx := context.Background()
	items := []model.CartItem{
		{ProductID: "a", Name: "Widget", Quantity: 1},
		{ProductID: "a ", Name: "Widget", Quantity: 4},
	}
	require.NoError(t, repo.SaveItems(ctx, "u1", items))

	cart, err := repo.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, items, cart.Items)
}
