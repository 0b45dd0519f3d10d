package controller

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestUploadController_StorageNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctrl := NewUploadController(nil)
	router := gin.New()
	router.Use(asUser("seller"))
	router.POST("/uploads/presign", ctrl.GeneratePresignedURL)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/uploads/presign",
		bytes.NewBufferString(`{"filename":"a.png","content_type":"image/png","file_size":10}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.UploadUnavailable, decodeBody(t, w)["error"])
}
