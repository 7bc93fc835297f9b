package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homeclean/services/reservation"
)

// RequireRole admits only actors holding one of roles. It runs after
// JWTAuthMiddleware.
func RequireRole(roles ...reservation.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		for _, r := range roles {
			if a.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not allowed for role " + string(a.Role)})
	}
}
