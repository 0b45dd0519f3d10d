package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/cartsync/internal/auth"
	"github.com/ikkim/cartsync/internal/errors"
	"github.com/ikkim/cartsync/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-for-middleware"

func setupMiddlewareTest() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(LoggingMiddleware())

	authMiddleware := NewAuthMiddleware(auth.NewJWTVerifier(testJWTSecret))
	router.GET("/test", authMiddleware.Authenticate(), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		identity, _ := GetIdentity(c)
		fromCtx, _ := auth.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user_id":  userID,
			"provider": identity.Provider,
			"ctx_user": fromCtx.UserID,
		})
	})
	return router
}

func generateTestToken(t *testing.T, userID string, accessExpiry time.Duration) string {
	tokens, err := util.GenerateTokenPair(userID, userID+"@example.com", testJWTSecret, accessExpiry, 7*24*time.Hour)
	require.NoError(t, err)
	return tokens.AccessToken
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errors.ErrorResponse {
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestAuthMiddleware_Authenticate_Success(t *testing.T) {
	router := setupMiddlewareTest()
	token := generateTestToken(t, "u1", 15*time.Minute)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, auth.ProviderJWT, body["provider"])
	assert.Equal(t, "u1", body["ctx_user"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuthMiddleware_Authenticate_QueryToken(t *testing.T) {
	router := setupMiddlewareTest()
	token := generateTestToken(t, "u2", 15*time.Minute)

	req := httptest.NewRequest("GET", "/test?token="+token, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_Authenticate_Failures(t *testing.T) {
	router := setupMiddlewareTest()

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", errors.AuthUnauthorized},
		{"bad format", "Token abc", errors.AuthTokenInvalid},
		{"bad token", "Bearer not-a-jwt", errors.AuthTokenInvalid},
		{"expired", "Bearer " + generateTestToken(t, "u1", -time.Minute), errors.AuthTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestLoggingMiddleware_KeepsRequestID(t *testing.T) {
	router := setupMiddlewareTest()

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
