package auth

import (
	"net/http"
	"strings"
	"time"

	"telecom-keeper/pkg/logger"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// Verifier checks a raw token. *Manager implements it.
type Verifier interface {
	Verify(tokenString string, expected TokenType, now time.Time) (Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	return tok, tok != ""
}

// RequireAccessToken verifies an access token and injects identity into the
// request context. Role and station checks live in internal/rbac.
func RequireAccessToken(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := v.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims.UserID, claims.StationID, claims.Role))
		c.Set("user_id", claims.UserID)
		c.Set("station_id", claims.StationID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
