package service

import (
	"context"
	"testing"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_ReplayDropsDeletedProducts(t *testing.T) {
	env := setupServiceTest(t)
	env.createProduct(t, "b", "Gadget", "seller")
	ctx := context.Background()

	items := []model.CartItem{item("a", "Widget", 1), item("b", "Gadget", 2)}
	require.NoError(t, env.outbox.EnqueueItems(ctx, "u1", items, errStoreDown))

	result, err := env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []model.CartItem{item("b", "Gadget", 2)}, env.storedItems(t, "u1"))
}

func TestOutbox_LatestWriteWins(t *testing.T) {
	env := setupServiceTest(t)
	env.createProduct(t, "a", "Widget", "seller")
	ctx := context.Background()

	require.NoError(t, env.outbox.EnqueueItems(ctx, "u1", []model.CartItem{item("a", "Widget", 1)}, errStoreDown))
	require.NoError(t, env.outbox.EnqueueItems(ctx, "u1", []model.CartItem{item("a", "Widget", 4)}, errStoreDown))

	pending, err := env.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{item("a", "Widget", 4)}, env.storedItems(t, "u1"))
}

func TestOutbox_FailedReplayCountsAttempts(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	env.saveCart(t, "u1", item("p1", "Ring", 1))
	require.NoError(t, env.outbox.EnqueueStrip(ctx, "u1", "p1", errStoreDown))

	env.store.FailAll(true)
	result, err := env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Processed: 1, Failed: 1}, result)

	pending, err := env.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	env.store.FailAll(false)
	result, err = env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, env.storedItems(t, "u1"))
}

func TestOutbox_GivesUpAfterMaxAttempts(t *testing.T) {
	env := setupServiceTest(t)
	ctx := context.Background()
	outbox := NewOutbox(env.outboxRepo, env.carts, env.products, 2)
	require.NoError(t, outbox.EnqueueStrip(ctx, "u1", "p1", errStoreDown))

	env.store.FailAll(true)
	for i := 0; i < 3; i++ {
		_, err := outbox.Replay(ctx, 10)
		require.NoError(t, err)
	}

	result, err := outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	n, err := env.outboxRepo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
