package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ikkim/cartsync/internal/docstore"
	"github.com/sony/gobreaker/v2"
)

// ErrorInfo 에러 정보 구조
type ErrorInfo struct {
	Status  int    // HTTP 상태 코드
	Code    string // 에러 코드 (codes.go 참조)
	Message string // 사용자 친화적 메시지
}

// ParseError 저장소 계층 에러를 응답 코드로 변환
// 내부 오류 문자열은 노출하지 않음
func ParseError(err error, resource string) ErrorInfo {
	switch {
	case err == nil:
		return ErrorInfo{Status: http.StatusInternalServerError, Code: InternalServerError, Message: "서버 오류가 발생했습니다"}

	case errors.Is(err, docstore.ErrNotFound):
		return ErrorInfo{Status: http.StatusNotFound, Code: ResourceNotFound, Message: getNotFoundMessage(resource)}

	case errors.Is(err, docstore.ErrConflict):
		return ErrorInfo{Status: http.StatusConflict, Code: ResourceConflict, Message: "다른 요청과 충돌했습니다. 다시 시도해주세요"}

	case errors.Is(err, docstore.ErrInvalidQuery):
		return ErrorInfo{Status: http.StatusBadRequest, Code: ValidationInvalidInput, Message: "잘못된 조회 조건입니다"}

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests), errors.Is(err, docstore.ErrClosed):
		return ErrorInfo{Status: http.StatusServiceUnavailable, Code: InternalUnavailable, Message: "저장소가 일시적으로 응답하지 않습니다. 잠시 후 다시 시도해주세요"}

	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout"):
		return ErrorInfo{Status: http.StatusGatewayTimeout, Code: InternalTimeout, Message: "응답이 지연되고 있습니다. 잠시 후 다시 시도해주세요"}
	}

	return ErrorInfo{Status: http.StatusInternalServerError, Code: InternalDatabaseError, Message: getDefaultErrorMessage(resource)}
}

func getNotFoundMessage(resource string) string {
	switch resource {
	case "product":
		return "상품을 찾을 수 없습니다"
	case "cart":
		return "장바구니를 찾을 수 없습니다"
	}
	return "요청한 데이터를 찾을 수 없습니다"
}

func getDefaultErrorMessage(resource string) string {
	switch resource {
	case "product":
		return "상품 처리 중 오류가 발생했습니다"
	case "cart":
		return "장바구니 처리 중 오류가 발생했습니다"
	}
	return "서버 오류가 발생했습니다. 잠시 후 다시 시도해주세요"
}
