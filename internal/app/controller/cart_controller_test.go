package controller

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCartRouter(env *controllerEnv, userID string) *gin.Engine {
	ctrl := NewCartController(env.cartSvc)
	router := gin.New()
	router.Use(asUser(userID))
	router.GET("/cart", ctrl.GetCart)
	router.POST("/cart", ctrl.AddToCart)
	router.DELETE("/cart/:productId", ctrl.RemoveFromCart)
	return router
}

func TestCartController_GetCart_Empty(t *testing.T) {
	env := setupControllerTest(t)
	router := setupCartRouter(env, "u1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cart", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, []interface{}{}, body["items"])
	assert.EqualValues(t, 0, body["count"])
	assert.EqualValues(t, 0, body["total_quantity"])
}

func TestCartController_AddAndRemove(t *testing.T) {
	env := setupControllerTest(t)
	env.createProduct(t, "a", "Widget", "seller")
	router := setupCartRouter(env, "u1")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/cart", bytes.NewBufferString(`{"product_id":"a"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Eventually(t, func() bool {
		cart, err := env.carts.FindByOwner(context.Background(), "u1")
		return err == nil && len(cart.Items) == 1 && cart.Items[0].Quantity == 2
	}, 2*time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cart", nil))
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
	assert.EqualValues(t, 2, body["total_quantity"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/cart/a", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decodeBody(t, w)["items"])

	assert.Eventually(t, func() bool {
		cart, err := env.carts.FindByOwner(context.Background(), "u1")
		return err == nil && len(cart.Items) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCartController_AddUnknownProduct(t *testing.T) {
	env := setupControllerTest(t)
	router := setupCartRouter(env, "u1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart", bytes.NewBufferString(`{"product_id":"missing"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ProductNotFound, decodeBody(t, w)["error"])
}

func TestCartController_BadRequest(t *testing.T) {
	env := setupControllerTest(t)
	router := setupCartRouter(env, "u1")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/cart", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ValidationRequired, decodeBody(t, w)["error"])
}

func TestCartController_Unauthorized(t *testing.T) {
	env := setupControllerTest(t)
	router := setupCartRouter(env, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cart", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.AuthUnauthorized, decodeBody(t, w)["error"])
}

func TestCartResponse(t *testing.T) {
	body := cartResponse([]model.CartItem{{ProductID: "a", Name: "Widget", Quantity: 2}, {ProductID: "b", Name: "Gadget", Quantity: 3}})
	assert.Equal(t, 2, body["count"])
	assert.Equal(t, 5, body["total_quantity"])
}
