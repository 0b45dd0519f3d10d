package controller

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/storage"
	ws "github.com/ikkim/cartsync/internal/websocket"
	"github.com/stretchr/testify/require"
)

type controllerEnv struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	cartSvc  service.CartService
	catalog  service.CatalogService
	assets   *storage.MemoryStorage
	hub      *ws.Hub
}

func setupControllerTest(t *testing.T) *controllerEnv {
	gin.SetMode(gin.TestMode)

	conn, store, cleanup, err := db.SetupTestStore()
	require.NoError(t, err)
	t.Cleanup(cleanup)

	carts := repository.NewCartRepository(store)
	products := repository.NewProductRepository(store)
	outbox := service.NewOutbox(repository.NewOutboxRepository(conn), carts, products, 5)
	assets := storage.NewMemoryStorage()
	cascade := service.NewCascadeCoordinator(carts, outbox, 2)

	cartSvc := service.NewCartService(carts, products, outbox, service.CartServiceConfig{
		SyncTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cartSvc.Shutdown(ctx)
	})

	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	return &controllerEnv{
		carts:    carts,
		products: products,
		cartSvc:  cartSvc,
		catalog:  service.NewCatalogService(products, assets, cascade),
		assets:   assets,
		hub:      hub,
	}
}

// asUser sets the identity the auth middleware would set.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func (e *controllerEnv) createProduct(t *testing.T, id, name, owner string) model.Product {
	p := model.Product{ID: id, Name: name, Description: name, OwnerID: owner}
	require.NoError(t, e.products.Create(context.Background(), &p))
	return p
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
