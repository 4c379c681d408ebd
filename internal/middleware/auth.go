package middleware

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"

	apperrors "github.com/mantonx/loopforge/internal/errors"
)

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token format")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenRejected    = errors.New("token claims rejected")
)

// claimsKey is where the verified claims are stored on the gin context.
const claimsKey = "auth.claims"

// AuthConfig holds token verification settings
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
	// Public paths are served without a token.
	Public []string
}

// VerifyToken checks an HS256 token and its time and issuer claims.
func VerifyToken(token string, cfg AuthConfig) (*jwt.Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &jwt.Claims{}
	if err := parsed.Claims(cfg.Secret, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	expected := jwt.Expected{Time: time.Now()}
	if cfg.Issuer != "" {
		expected.Issuer = cfg.Issuer
	}
	if err := claims.ValidateWithLeeway(expected, cfg.ClockSkew); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRejected, err)
	}

	return claims, nil
}

// Auth rejects requests without a valid bearer token. The token is read from
// the Authorization header, or from ?token= for websocket clients that cannot
// set headers.
func Auth(cfg AuthConfig, logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" || slices.Contains(cfg.Public, c.Request.URL.Path) {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}

		claims, err := VerifyToken(token, cfg)
		if err != nil {
			logger.Debug("request rejected", "path", c.Request.URL.Path, "ip", c.ClientIP(), "error", err)
			apperrors.NewUnauthorizedError("A valid bearer token is required", err).ToGinResponse(c)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the verified claims of the current request, if any.
func Claims(c *gin.Context) (*jwt.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
