package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"homeclean/services/reservation"
)

func isAdminToken(adminToken, tokenString string) bool {
	if adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(adminToken), []byte(tokenString)) == 1
}

// JWTAuthAdminMiddleware admits the static admin token or a JWT carrying
// the admin role.
func JWTAuthAdminMiddleware(secret, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := authenticate(c, secret, adminToken)
		if !ok {
			return
		}
		if a.Role != reservation.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized admin access"})
			return
		}
		c.Set("isAdmin", true)
		c.Next()
	}
}
