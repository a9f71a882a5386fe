package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", RequireAuth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": "admin",
		"exp": exp.Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func get(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_ValidToken(t *testing.T) {
	router := setupAuthTestRouter("secret")
	token := signToken(t, "secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))

	w := get(router, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_MissingOrMalformedHeader(t *testing.T) {
	router := setupAuthTestRouter("secret")

	assert.Equal(t, http.StatusUnauthorized, get(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Bearer ").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Basic dXNlcg==").Code)
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	router := setupAuthTestRouter("secret")
	token := signToken(t, "other-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour))

	assert.Equal(t, http.StatusUnauthorized, get(router, "Bearer "+token).Code)
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	router := setupAuthTestRouter("secret")
	token := signToken(t, "secret", jwt.SigningMethodHS256, time.Now().Add(-time.Hour))

	assert.Equal(t, http.StatusUnauthorized, get(router, "Bearer "+token).Code)
}

func TestRequireAuth_DisabledWithoutSecret(t *testing.T) {
	router := setupAuthTestRouter("")

	assert.Equal(t, http.StatusOK, get(router, "").Code)
}
