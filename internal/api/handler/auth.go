package handler

import (
	"net/http"

	"supportchat/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// tokenFrom reads the bearer from the Authorization header, falling back to
// the token query parameter browsers use for websocket upgrades.
func tokenFrom(c *gin.Context) string {
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid bearer token.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := h.Auth.Authenticate(tokenFrom(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identityFrom(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}
