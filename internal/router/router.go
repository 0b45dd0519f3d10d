package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/app/controller"
	"github.com/ikkim/cartsync/internal/middleware"
)

type Router struct {
	cartController    *controller.CartController
	productController *controller.ProductController
	uploadController  *controller.UploadController
	streamController  *controller.StreamController
	authMiddleware    *middleware.AuthMiddleware
	config            *config.Config
}

func NewRouter(
	cartController *controller.CartController,
	productController *controller.ProductController,
	uploadController *controller.UploadController,
	streamController *controller.StreamController,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.Config,
) *Router {
	return &Router{
		cartController:    cartController,
		productController: productController,
		uploadController:  uploadController,
		streamController:  streamController,
		authMiddleware:    authMiddleware,
		config:            cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	gin.SetMode(r.config.Server.GinMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())
	router.Use(corsMiddleware(r.config.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"message": "cartsync is running",
			"store":   r.config.Store.Backend,
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(r.authMiddleware.Authenticate())
	{
		cart := v1.Group("/cart")
		{
			cart.GET("", r.cartController.GetCart)
			cart.POST("", r.cartController.AddToCart)
			cart.DELETE("/:productId", r.cartController.RemoveFromCart)
		}

		products := v1.Group("/products")
		{
			products.GET("", r.productController.ListProducts)
			products.GET("/:id", r.productController.GetProduct)
			products.POST("", r.productController.CreateProduct)
			products.DELETE("/:id", r.productController.DeleteProduct)
		}

		uploads := v1.Group("/uploads")
		{
			uploads.POST("/presign", r.uploadController.GeneratePresignedURL)
		}

		v1.GET("/ws", r.streamController.Stream)
	}

	return router
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, X-Request-ID, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
