package errors

// 에러 코드 상수 정의
// 형식: CATEGORY_SPECIFIC_DETAIL
// 클라이언트는 이 코드를 기준으로 메시지를 매핑함

const (
	// ==================== 인증 (AUTH_) ====================
	AuthUnauthorized = "AUTH_UNAUTHORIZED"  // 로그인 필요
	AuthTokenExpired = "AUTH_TOKEN_EXPIRED" // 토큰 만료
	AuthTokenInvalid = "AUTH_TOKEN_INVALID" // 잘못된 토큰

	// ==================== 인가/권한 (AUTHZ_) ====================
	AuthzForbidden = "AUTHZ_FORBIDDEN"  // 접근 권한 없음
	AuthzOwnerOnly = "AUTHZ_OWNER_ONLY" // 소유자만 가능

	// ==================== 검증 (VALIDATION_) ====================
	ValidationInvalidInput = "VALIDATION_INVALID_INPUT" // 잘못된 입력
	ValidationRequired     = "VALIDATION_REQUIRED"      // 필수 항목

	// ==================== 리소스 (RESOURCE_) ====================
	ResourceNotFound = "RESOURCE_NOT_FOUND" // 리소스 없음
	ResourceConflict = "RESOURCE_CONFLICT"  // 동시 수정 충돌

	// ==================== 상품 (PRODUCT_) ====================
	ProductNotFound = "PRODUCT_NOT_FOUND" // 상품 없음
	ProductInvalid  = "PRODUCT_INVALID"   // 이름/설명 누락

	// ==================== 장바구니 (CART_) ====================
	CartSyncTimeout   = "CART_SYNC_TIMEOUT"   // 장바구니 동기화 지연
	CartSessionClosed = "CART_SESSION_CLOSED" // 세션 종료됨

	// ==================== 업로드 (UPLOAD_) ====================
	UploadInvalidFileType = "UPLOAD_INVALID_FILE_TYPE" // 잘못된 파일 형식
	UploadFileTooLarge    = "UPLOAD_FILE_TOO_LARGE"    // 파일 너무 큼
	UploadFailed          = "UPLOAD_FAILED"            // 업로드 실패
	UploadUnavailable     = "UPLOAD_UNAVAILABLE"       // 업로드 저장소 미설정

	// ==================== 내부 오류 (INTERNAL_) ====================
	InternalServerError   = "INTERNAL_SERVER_ERROR"   // 서버 오류
	InternalDatabaseError = "INTERNAL_DATABASE_ERROR" // 저장소 오류
	InternalUnavailable   = "INTERNAL_UNAVAILABLE"    // 저장소 일시 차단
	InternalTimeout       = "INTERNAL_TIMEOUT"        // 응답 지연
)
