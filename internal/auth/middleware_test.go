package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(m *JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", Middleware(m))
	api.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "admin": IsAdmin(c)})
	})
	api.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	m := NewJWTManager("secret", "issuer", time.Hour)
	r := newTestRouter(m)

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)

	w := serve(r, "/api/whoami", token)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, false, body["admin"])

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/api/whoami", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/api/whoami", "garbage").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/api/whoami?token="+token, "").Code)

	assert.Equal(t, http.StatusForbidden, serve(r, "/api/admin", token).Code)
	adminToken, err := m.GenerateAccessToken(UserClaims{UserID: "root", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve(r, "/api/admin", adminToken).Code)
}

func TestValidateAccessToken(t *testing.T) {
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewJWTManager("secret", "issuer", time.Hour)
	m.now = func() time.Time { return issued }

	token, err := m.GenerateAccessToken(UserClaims{UserID: "u1"})
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	m.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = m.ValidateAccessToken(token)
	assert.Equal(t, ErrTokenExpired, err)

	other := NewJWTManager("secret", "someone-else", time.Hour)
	other.now = func() time.Time { return issued }
	_, err = other.ValidateAccessToken(token)
	assert.Equal(t, ErrInvalidToken, err)

	wrongKey := NewJWTManager("other-secret", "issuer", time.Hour)
	wrongKey.now = func() time.Time { return issued }
	_, err = wrongKey.ValidateAccessToken(token)
	assert.Equal(t, ErrInvalidToken, err)
}

func TestPasswordManager(t *testing.T) {
	p := NewPasswordManager(4, 0)
	hash, err := p.Hash("passw0rd")
	require.NoError(t, err)
	assert.True(t, p.Verify("passw0rd", hash))
	assert.False(t, p.Verify("password", hash))

	assert.Error(t, p.CheckStrength("short1"))
	assert.Error(t, p.CheckStrength("lettersonly"))
	assert.Error(t, p.CheckStrength("12345678"))
	assert.NoError(t, p.CheckStrength("letters-and-dash"))
}
