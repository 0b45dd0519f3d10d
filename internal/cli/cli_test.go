package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/pkg/util"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackends struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	load     EnvLoader
}

func setupCLITest(t *testing.T) *testBackends {
	conn, store, cleanup, err := db.SetupTestStore()
	require.NoError(t, err)
	t.Cleanup(cleanup)

	cfg := &config.Config{
		Cascade: config.CascadeConfig{Concurrency: 2},
		Outbox:  config.OutboxConfig{BatchSize: 10, MaxAttempts: 3},
	}
	b := &testBackends{
		carts:    repository.NewCartRepository(store),
		products: repository.NewProductRepository(store),
	}
	outboxRepo := repository.NewOutboxRepository(conn)
	b.load = func(context.Context) (*Env, error) {
		return NewEnv(cfg, b.carts, b.products, outboxRepo, nil), nil
	}
	return b
}

func execute(t *testing.T, load EnvLoader, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(load)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCascadeCommand(t *testing.T) {
	b := setupCLITest(t)
	ctx := context.Background()
	require.NoError(t, b.carts.SaveItems(ctx, "u1", []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 2}}))
	require.NoError(t, b.carts.SaveItems(ctx, "u2", []model.CartItem{{ProductID: "b", Name: "Gadget", Quantity: 1}}))

	out, err := execute(t, b.load, "cascade", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "scanned 2 carts, matched 1, cleaned 1")

	cart, err := b.carts.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	out, err = execute(t, b.load, "--format", "json", "cascade", "a")
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 0, result["matched"])
}

func TestCascadeCommand_RequiresProductID(t *testing.T) {
	b := setupCLITest(t)
	_, err := execute(t, b.load, "cascade")
	assert.Error(t, err)
}

func TestOutboxCommands_Empty(t *testing.T) {
	b := setupCLITest(t)

	out, err := execute(t, b.load, "outbox", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty")

	out, err = execute(t, b.load, "outbox", "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 0 writes")
}

func TestOutboxCommands_ReplayQueuedWrite(t *testing.T) {
	b := setupCLITest(t)
	ctx := context.Background()
	require.NoError(t, b.products.Create(ctx, &model.Product{ID: "a", Name: "Widget", Description: "w", OwnerID: "seller"}))

	env, err := b.load(ctx)
	require.NoError(t, err)
	items := []model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 3}}
	require.NoError(t, env.Outbox.EnqueueItems(ctx, "u1", items, errors.New("deadline exceeded")))

	out, err := execute(t, b.load, "outbox", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cart_items")
	assert.Contains(t, out, "deadline exceeded")

	out, err = execute(t, b.load, "--format", "json", "outbox", "replay", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, `"succeeded": 1`)

	cart, err := b.carts.FindByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	b := setupCLITest(t)
	_, err := execute(t, b.load, "--format", "xml", "outbox", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoaderFailure(t *testing.T) {
	failing := func(context.Context) (*Env, error) { return nil, errors.New("connection refused") }
	_, err := execute(t, failing, "outbox", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestPrintToken(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	jwtCfg := config.JWTConfig{Secret: "cli-secret", AccessTokenExpiry: time.Minute, RefreshTokenExpiry: time.Hour}

	require.NoError(t, printToken(cmd, &RootOptions{Format: "text"}, jwtCfg, "u1", "u1@example.com"))

	token := bytes.TrimSpace(buf.Bytes())
	claims, err := util.ValidateToken(string(token), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailures, ExitCode(wrapExitError(ExitFailures, "cascade incomplete", nil)))
	assert.Equal(t, ExitCommandError, ExitCode(errors.New("boom")))
}
