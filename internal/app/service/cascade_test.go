package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanHook intercepts the cart scan: it may fail it, hold it until gate is
// closed, or run after before returning the scanned carts.
type scanHook struct {
	repository.CartRepository
	err   error
	gate  chan struct{}
	after func()
}

func (h *scanHook) FindAll(ctx context.Context) ([]model.CartDocument, error) {
	if h.gate != nil {
		<-h.gate
	}
	if h.err != nil {
		return nil, h.err
	}
	carts, err := h.CartRepository.FindAll(ctx)
	if err == nil && h.after != nil {
		h.after()
	}
	return carts, err
}

func seedCascadeCarts(t *testing.T, env *testEnv) {
	env.saveCart(t, "u1", item("p1", "Ring", 1))
	env.saveCart(t, "u2", item("p1", "Ring", 3), item("p2", "Chain", 1))
	env.saveCart(t, "u3", item("p2", "Chain", 2))
	env.saveCart(t, "u4")
}

func TestCascade_StripsProductFromEveryCart(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	ctx := context.Background()

	before, err := env.carts.FindByOwner(ctx, "u3")
	require.NoError(t, err)

	coordinator := NewCascadeCoordinator(env.carts, env.outbox, 2)
	result := coordinator.Run(ctx, "p1")

	require.NoError(t, result.Err())
	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 2, result.Cleaned)

	assert.Empty(t, env.storedItems(t, "u1"))
	assert.Equal(t, []model.CartItem{item("p2", "Chain", 1)}, env.storedItems(t, "u2"))

	after, err := env.carts.FindByOwner(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Items, after.Items)
}

func TestCascade_IsIdempotent(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	coordinator := NewCascadeCoordinator(env.carts, env.outbox, 4)

	first := coordinator.Run(context.Background(), "p1")
	second := coordinator.Run(context.Background(), "p1")

	assert.Equal(t, 2, first.Cleaned)
	assert.Equal(t, 0, second.Matched)
	assert.NoError(t, second.Err())
}

func TestCascade_OneFailingCartDoesNotStopOthers(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	env.saveCart(t, "u5", item("p1", "Ring", 1))
	env.store.FailDoc(repository.CartsCollection, "u2", true)

	coordinator := NewCascadeCoordinator(env.carts, env.outbox, 3)
	result := coordinator.Run(context.Background(), "p1")

	assert.Equal(t, 3, result.Matched)
	assert.Equal(t, 2, result.Cleaned)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "u2", result.Failures[0].CartID)
	assert.ErrorIs(t, result.Err(), errStoreDown)
	assert.Empty(t, env.storedItems(t, "u1"))
	assert.Empty(t, env.storedItems(t, "u5"))

	pending, err := env.outbox.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.OutboxCartStrip, pending[0].Kind)

	env.store.FailDoc(repository.CartsCollection, "u2", false)
	replayed, err := env.outbox.Replay(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Succeeded)
	assert.Equal(t, []model.CartItem{item("p2", "Chain", 1)}, env.storedItems(t, "u2"))
}

func TestCascade_StartAndWait(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)

	coordinator := NewCascadeCoordinator(env.carts, env.outbox, 2)

	ctx, cancel := context.WithCancel(context.Background())
	handle := coordinator.Start(ctx, "p2")
	// the cascade outlives the caller's context
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), waitFor)
	defer waitCancel()
	result, err := handle.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cleaned)
	assert.Equal(t, "p2", result.ProductID)
	assert.True(t, result.Duration > 0)

	select {
	case <-handle.Done():
	default:
		t.Fatal("handle not done after Wait returned")
	}
}

func TestCascadeResult_MarshalJSON(t *testing.T) {
	result := CascadeResult{
		ProductID: "p1",
		Scanned:   3,
		Matched:   2,
		Cleaned:   1,
		Failures:  []CascadeFailure{{CartID: "u2", Err: errStoreDown}},
	}

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "p1", decoded["product_id"])
	assert.EqualValues(t, 1, decoded["cleaned"])
	assert.Equal(t, []interface{}{"cart u2: store unavailable"}, decoded["warnings"])
}

func TestCascade_CartAlreadyCleanIsSkipped(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	ctx := context.Background()

	// u1 loses the product between the scan and its strip
	carts := &scanHook{CartRepository: env.carts, after: func() {
		_, err := env.carts.StripProduct(ctx, "u1", "p1")
		require.NoError(t, err)
	}}
	result := NewCascadeCoordinator(carts, env.outbox, 2).Run(ctx, "p1")

	require.NoError(t, result.Err())
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Cleaned)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, env.storedItems(t, "u1"))
	assert.Equal(t, []model.CartItem{item("p2", "Chain", 1)}, env.storedItems(t, "u2"))
}

func TestCascade_FailedScanIsQueued(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	ctx := context.Background()

	carts := &scanHook{CartRepository: env.carts, err: errStoreDown}
	result := NewCascadeCoordinator(carts, env.outbox, 2).Run(ctx, "p1")

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "*", result.Failures[0].CartID)
	assert.ErrorIs(t, result.Err(), errStoreDown)

	pending, err := env.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.OutboxCascade, pending[0].Kind)
	assert.Contains(t, pending[0].LastError, errStoreDown.Error())

	replayed, err := env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Processed: 1, Succeeded: 1}, replayed)
	assert.Empty(t, env.storedItems(t, "u1"))
	assert.Equal(t, []model.CartItem{item("p2", "Chain", 1)}, env.storedItems(t, "u2"))

	pending, err = env.outbox.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCascade_QueuedCascadeQueuesFailingCarts(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)
	ctx := context.Background()
	require.NoError(t, env.outbox.EnqueueCascade(ctx, "p1", errStoreDown))
	env.store.FailDoc(repository.CartsCollection, "u2", true)

	replayed, err := env.outbox.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.Succeeded)
	assert.Empty(t, env.storedItems(t, "u1"))

	pending, err := env.outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.OutboxCartStrip, pending[0].Kind)
	assert.Equal(t, "u2", pending[0].DocID)
}

func TestCascade_DrainWaitsForStartedCascades(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)

	gate := make(chan struct{})
	carts := &scanHook{CartRepository: env.carts, gate: gate}
	coordinator := NewCascadeCoordinator(carts, env.outbox, 2)
	handle := coordinator.Start(context.Background(), "p1")

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, coordinator.Drain(ctx))

	select {
	case <-handle.Done():
	default:
		t.Fatal("Drain returned before the cascade finished")
	}
	assert.Empty(t, env.storedItems(t, "u1"))
}

func TestCascade_DrainQueuesUnfinishedCascades(t *testing.T) {
	env := setupServiceTest(t)
	seedCascadeCarts(t, env)

	gate := make(chan struct{})
	carts := &scanHook{CartRepository: env.carts, gate: gate}
	coordinator := NewCascadeCoordinator(carts, env.outbox, 2)
	handle := coordinator.Start(context.Background(), "p1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := coordinator.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pending, err := env.outbox.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.OutboxCascade, pending[0].Kind)

	close(gate)
	<-handle.Done()
	require.NoError(t, coordinator.Drain(context.Background()))
}
