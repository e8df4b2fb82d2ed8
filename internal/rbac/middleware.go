package rbac

import (
	"net/http"

	"telecom-keeper/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireStation rejects tokens minted for another keeperd instance.
func RequireStation(stationID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok || id.StationID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "station_id required"})
			return
		}
		if id.StationID != stationID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token issued for another station"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole lets the request through when Allows accepts the caller's
// role. Chain it after RequireStation.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	list := append([]string(nil), allowed...)
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(role, list...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
