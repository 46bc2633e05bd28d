package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hearthside/comms/internal/auth"
	"hearthside/comms/internal/models"
)

const (
	// ContextKeyParty holds the authenticated caller's models.Party in the
	// Gin context.
	ContextKeyParty = "party"
)

// AuthMiddleware creates a Gin middleware for JWT authentication. On
// success the caller's party is stored in the context for handlers.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		party, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("Invalid or expired token: %v", err)})
			return
		}

		c.Set(ContextKeyParty, party)
		c.Next()
	}
}

// CallerParty extracts the authenticated party set by AuthMiddleware.
func CallerParty(c *gin.Context) (models.Party, bool) {
	value, exists := c.Get(ContextKeyParty)
	if !exists {
		return models.Party{}, false
	}
	party, ok := value.(models.Party)
	return party, ok
}
