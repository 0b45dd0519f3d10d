package controller

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/ikkim/cartsync/internal/middleware"
	"github.com/ikkim/cartsync/internal/storage"
	ws "github.com/ikkim/cartsync/internal/websocket"
	"github.com/ikkim/cartsync/pkg/logger"
)

const cascadeNotifyTimeout = 5 * time.Minute

type ProductController struct {
	catalog      service.CatalogService
	hub          *ws.Hub
	maxImageSize int64
}

func NewProductController(catalog service.CatalogService, hub *ws.Hub, maxImageSize int64) *ProductController {
	return &ProductController{
		catalog:      catalog,
		hub:          hub,
		maxImageSize: maxImageSize,
	}
}

// ListProducts returns the caller's products, newest first
// GET /api/v1/products
func (ctrl *ProductController) ListProducts(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	products, err := ctrl.catalog.ListProducts(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "product")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}

// GetProduct returns one product
// GET /api/v1/products/:id
func (ctrl *ProductController) GetProduct(c *gin.Context) {
	product, err := ctrl.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "product")
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// CreateProduct creates a product from a multipart form with an optional image
// POST /api/v1/products
func (ctrl *ProductController) CreateProduct(c *gin.Context) {
	log := middleware.GetLoggerFromContext(c)

	userID, ok := requireUser(c)
	if !ok {
		return
	}

	input := service.ProductInput{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		ImageURL:    c.PostForm("image_url"),
	}

	if header, err := c.FormFile("image"); err == nil {
		if err := storage.ValidateFileSize(header.Size, ctrl.maxImageSize); err != nil {
			errors.BadRequest(c, errors.UploadFileTooLarge, "이미지 파일이 너무 큽니다")
			return
		}
		contentType := header.Header.Get("Content-Type")
		if err := storage.ValidateContentType(contentType, storage.AllowedImageTypes); err != nil {
			errors.BadRequest(c, errors.UploadInvalidFileType, "이미지 파일만 업로드할 수 있습니다 (JPEG, PNG, GIF, WEBP)")
			return
		}

		file, err := header.Open()
		if err != nil {
			errors.BadRequest(c, errors.UploadFailed, "이미지를 읽을 수 없습니다")
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, ctrl.maxImageSize+1))
		file.Close()
		if err != nil {
			errors.BadRequest(c, errors.UploadFailed, "이미지를 읽을 수 없습니다")
			return
		}

		input.ImageName = header.Filename
		input.ContentType = contentType
		input.Image = data
	} else if err != http.ErrMissingFile {
		log.Warn("Invalid multipart form", map[string]interface{}{
			"error": err.Error(),
		})
		errors.BadRequest(c, errors.ValidationInvalidInput, "잘못된 요청 형식입니다")
		return
	}

	product, err := ctrl.catalog.CreateProduct(c.Request.Context(), userID, input)
	if err != nil {
		respondServiceError(c, err, "product")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// DeleteProduct deletes the caller's product and strips it from every cart.
// With ?wait=true the response carries the cascade result.
// DELETE /api/v1/products/:id
func (ctrl *ProductController) DeleteProduct(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	productID := c.Param("id")

	handle, err := ctrl.catalog.DeleteProduct(c.Request.Context(), userID, productID)
	if err != nil {
		respondServiceError(c, err, "product")
		return
	}

	if c.Query("wait") == "true" {
		result, err := handle.Wait(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusAccepted, gin.H{"deleted": true, "cascade": gin.H{"product_id": productID, "pending": true}})
			go ctrl.notifyCascade(userID, handle)
			return
		}
		ctrl.sendCascade(userID, result)
		c.JSON(http.StatusOK, gin.H{"deleted": true, "cascade": result})
		return
	}

	go ctrl.notifyCascade(userID, handle)
	c.JSON(http.StatusAccepted, gin.H{"deleted": true, "cascade": gin.H{"product_id": productID, "pending": true}})
}

func (ctrl *ProductController) notifyCascade(userID string, handle *service.CascadeHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), cascadeNotifyTimeout)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		logger.Warn("Cascade still running, result not delivered", map[string]interface{}{
			"product_id": handle.ProductID,
		})
		return
	}
	ctrl.sendCascade(userID, result)
}

func (ctrl *ProductController) sendCascade(userID string, result service.CascadeResult) {
	if ctrl.hub == nil {
		return
	}
	_ = ctrl.hub.SendToUser(userID, ws.NewCascadeResult(result))
}
