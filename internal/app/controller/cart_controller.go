package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/app/model"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/ikkim/cartsync/internal/middleware"
)

type CartController struct {
	cartService service.CartService
}

func NewCartController(cartService service.CartService) *CartController {
	return &CartController{
		cartService: cartService,
	}
}

type AddToCartRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

func cartResponse(items []model.CartItem) gin.H {
	return gin.H{
		"items":          items,
		"count":          len(items),
		"total_quantity": model.TotalQuantity(items),
	}
}

// GetCart returns user's cart
// GET /api/v1/cart
func (ctrl *CartController) GetCart(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	cart, err := ctrl.cartService.GetCart(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "cart")
		return
	}

	c.JSON(http.StatusOK, cartResponse(cart.Items))
}

// AddToCart adds one unit of a product
// POST /api/v1/cart
func (ctrl *CartController) AddToCart(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid add to cart request", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		errors.BadRequest(c, errors.ValidationRequired, "product_id가 필요합니다")
		return
	}

	items, err := ctrl.cartService.AddToCart(c.Request.Context(), userID, req.ProductID)
	if err != nil {
		respondServiceError(c, err, "cart")
		return
	}

	c.JSON(http.StatusOK, cartResponse(items))
}

// RemoveFromCart removes a product line
// DELETE /api/v1/cart/:productId
func (ctrl *CartController) RemoveFromCart(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	items, err := ctrl.cartService.RemoveFromCart(c.Request.Context(), userID, c.Param("productId"))
	if err != nil {
		respondServiceError(c, err, "cart")
		return
	}

	c.JSON(http.StatusOK, cartResponse(items))
}
