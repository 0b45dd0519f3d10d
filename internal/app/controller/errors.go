package controller

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/ikkim/cartsync/internal/middleware"
)

// respondServiceError maps service sentinels to responses and falls back to
// the store error parser.
func respondServiceError(c *gin.Context, err error, resource string) {
	switch {
	case stderrors.Is(err, service.ErrProductNotFound):
		errors.NotFound(c, errors.ProductNotFound, "상품을 찾을 수 없습니다")
	case stderrors.Is(err, service.ErrNotProductOwner):
		errors.Forbidden(c, errors.AuthzOwnerOnly, "상품 등록자만 삭제할 수 있습니다")
	case stderrors.Is(err, service.ErrInvalidProduct):
		errors.BadRequest(c, errors.ProductInvalid, "상품 이름과 설명을 입력해주세요")
	case stderrors.Is(err, service.ErrMissingIdentity):
		errors.Unauthorized(c, "")
	case stderrors.Is(err, service.ErrCartSyncTimeout):
		errors.RespondWithError(c, http.StatusGatewayTimeout, errors.CartSyncTimeout, "장바구니를 불러오는 중입니다. 잠시 후 다시 시도해주세요")
	case stderrors.Is(err, service.ErrSessionClosed):
		errors.ServiceUnavailable(c, errors.CartSessionClosed, "장바구니 세션이 종료되었습니다")
	default:
		middleware.GetLoggerFromContext(c).Error("Request failed", err, map[string]interface{}{
			"resource": resource,
		})
		errors.RespondWithParsedError(c, err, resource)
	}
}

// requireUser aborts with 401 when the request carries no identity.
func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.GetLoggerFromContext(c).Warn("Unauthenticated request", map[string]interface{}{
			"path": c.Request.URL.Path,
		})
		errors.Unauthorized(c, "")
		return "", false
	}
	return userID, true
}
