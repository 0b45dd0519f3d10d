package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/ikkim/cartsync/internal/storage"
	"github.com/ikkim/cartsync/pkg/logger"
)

type UploadController struct {
	storage *storage.S3Storage
}

// NewUploadController accepts a nil storage when S3 is not the asset backend.
func NewUploadController(storage *storage.S3Storage) *UploadController {
	return &UploadController{
		storage: storage,
	}
}

type GeneratePresignedURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// GeneratePresignedURL generates a presigned URL for uploading a product image to S3
// POST /api/v1/uploads/presign
func (ctrl *UploadController) GeneratePresignedURL(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if ctrl.storage == nil {
		errors.ServiceUnavailable(c, errors.UploadUnavailable, "직접 업로드를 지원하지 않는 저장소입니다")
		return
	}

	var req GeneratePresignedURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid presigned URL request", map[string]interface{}{
			"error": err.Error(),
		})
		errors.BadRequest(c, errors.ValidationRequired, "filename과 content_type이 필요합니다")
		return
	}

	if err := storage.ValidateContentType(req.ContentType, storage.AllowedImageTypes); err != nil {
		logger.Warn("Invalid content type", map[string]interface{}{
			"content_type": req.ContentType,
		})
		errors.BadRequest(c, errors.UploadInvalidFileType, "이미지 파일만 업로드할 수 있습니다 (JPEG, PNG, GIF, WEBP)")
		return
	}

	response, err := ctrl.storage.GeneratePresignedURL(c.Request.Context(), userID, req.Filename, req.ContentType)
	if err != nil {
		logger.Error("Failed to generate presigned URL", err, map[string]interface{}{
			"filename":     req.Filename,
			"content_type": req.ContentType,
		})
		errors.InternalError(c, "")
		return
	}

	logger.Info("Presigned URL generated successfully", map[string]interface{}{
		"user_id": userID,
		"key":     response.Key,
	})
	c.JSON(http.StatusOK, response)
}
