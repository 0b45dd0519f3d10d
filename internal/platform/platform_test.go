package platform

import (
	"context"
	"testing"

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/auth"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: "platform-secret"},
		Store: config.StoreConfig{
			Backend:          "gorm",
			MaxAttempts:      3,
			BreakerEnabled:   true,
			BreakerMinCalls:  5,
			BreakerFailRatio: 0.6,
		},
		Assets: config.AssetsConfig{Backend: "memory"},
	}
}

func TestBuildStore_GormWithBreaker(t *testing.T) {
	conn, err := db.SetupTestDB()
	require.NoError(t, err)
	defer db.CleanupTestDB(conn)

	stores, err := BuildStore(context.Background(), testConfig(), conn)
	require.NoError(t, err)
	defer stores.Close()

	_, ok := stores.Store.(*docstore.BreakerStore)
	assert.True(t, ok)

	ctx := context.Background()
	require.NoError(t, stores.Store.WriteMerge(ctx, "carts", "u1", docstore.Fields{"items": []interface{}{}}))
	doc, err := stores.Store.Get(ctx, "carts", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
}

func TestBuildStore_GormWithoutBreaker(t *testing.T) {
	conn, err := db.SetupTestDB()
	require.NoError(t, err)
	defer db.CleanupTestDB(conn)

	cfg := testConfig()
	cfg.Store.BreakerEnabled = false
	stores, err := BuildStore(context.Background(), cfg, conn)
	require.NoError(t, err)
	defer stores.Close()

	_, ok := stores.Store.(*docstore.GormStore)
	assert.True(t, ok)
}

func TestBuildStore_RequiresConnection(t *testing.T) {
	_, err := BuildStore(context.Background(), testConfig(), nil)
	assert.Error(t, err)
}

func TestBuildAssets_Memory(t *testing.T) {
	assets, err := BuildAssets(context.Background(), testConfig())
	require.NoError(t, err)
	defer assets.Close()

	_, ok := assets.Store.(*storage.MemoryStorage)
	assert.True(t, ok)
	assert.Nil(t, assets.S3)
}

func TestBuildVerifier_JWT(t *testing.T) {
	verifier, err := BuildVerifier(context.Background(), testConfig())
	require.NoError(t, err)
	_, ok := verifier.(*auth.JWTVerifier)
	assert.True(t, ok)
}
