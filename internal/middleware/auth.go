package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/utils"
)

// Context keys set by AuthMiddleware
const (
	DeviceIDKey = "device_id"
	UserIDKey   = "user_id"
)

// AuthMiddleware verifies device JWTs and adds the device to the context
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(DeviceIDKey, claims.DeviceID)
		c.Set(UserIDKey, claims.UserID)

		c.Next()
	}
}

// DeviceID returns the authenticated device, or "" outside AuthMiddleware
func DeviceID(c *gin.Context) string {
	return c.GetString(DeviceIDKey)
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
