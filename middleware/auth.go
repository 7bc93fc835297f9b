package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"homeclean/services/reservation"
	"homeclean/utils"
)

const actorKey = "actor"

func bearer(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")), true
}

// JWTAuthMiddleware resolves the caller from a bearer token signed with
// secret, or from the static admin token, and stores it as the request actor.
func JWTAuthMiddleware(secret, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, secret, adminToken); !ok {
			return
		}
		c.Next()
	}
}

// authenticate sets the request actor, or aborts the request and returns false.
func authenticate(c *gin.Context, secret, adminToken string) (reservation.Actor, bool) {
	tokenString, ok := bearer(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
		return reservation.Actor{}, false
	}
	if isAdminToken(adminToken, tokenString) {
		a := reservation.Actor{ID: "admin", Role: reservation.RoleAdmin, Origin: c.ClientIP()}
		c.Set(actorKey, a)
		return a, true
	}

	id, err := utils.ExtractIdentity(secret, tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return reservation.Actor{}, false
	}
	role := reservation.Role(id.Role)
	switch role {
	case reservation.RoleClient, reservation.RoleProvider, reservation.RoleAdmin:
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unknown role"})
		return reservation.Actor{}, false
	}
	a := reservation.Actor{ID: id.Subject, Role: role, Origin: c.ClientIP()}
	c.Set(actorKey, a)
	return a, true
}

// ActorFrom returns the actor set by JWTAuthMiddleware.
func ActorFrom(c *gin.Context) (reservation.Actor, bool) {
	v, exists := c.Get(actorKey)
	if !exists {
		return reservation.Actor{}, false
	}
	a, ok := v.(reservation.Actor)
	return a, ok
}
