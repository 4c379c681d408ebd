package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-at-least-32-bytes-long")

func signToken(t *testing.T, secret []byte, claims jwt.Claims) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, nil)
	require.NoError(t, err)
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	cfg := AuthConfig{Secret: testSecret, Issuer: "loopforge-ui", ClockSkew: time.Second}
	now := time.Now()

	valid := signToken(t, testSecret, jwt.Claims{
		Issuer:   "loopforge-ui",
		Subject:  "editor",
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	})
	claims, err := VerifyToken(valid, cfg)
	require.NoError(t, err)
	assert.Equal(t, "editor", claims.Subject)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"wrong secret", signToken(t, []byte("another-secret-key-that-is-long-enough!!"), jwt.Claims{Issuer: "loopforge-ui"}), ErrInvalidSignature},
		{"expired", signToken(t, testSecret, jwt.Claims{Issuer: "loopforge-ui", Expiry: jwt.NewNumericDate(now.Add(-time.Hour))}), ErrTokenRejected},
		{"wrong issuer", signToken(t, testSecret, jwt.Claims{Issuer: "someone-else"}), ErrTokenRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyToken(tt.token, cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(AuthConfig{Secret: testSecret, Public: []string{"/health"}}, hclog.NewNullLogger()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/jobs", func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	token := signToken(t, testSecret, jwt.Claims{Subject: "svc", Expiry: jwt.NewNumericDate(time.Now().Add(time.Minute))})

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "svc", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Basic "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer   abc "))
	assert.Empty(t, bearerToken("abc"))
	assert.Empty(t, bearerToken(""))
}
