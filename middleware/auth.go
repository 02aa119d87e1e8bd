package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	OperatorContextKey = "operatorID"
	RoleContextKey     = "role"
	AdminRole          = "admin"
)

// AuthMiddleware trusts the identity headers set by the api-gateway. The admin
// routes are never exposed without it.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		operatorID := c.GetHeader("X-User-ID")
		role := c.GetHeader("X-User-Role")

		if operatorID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Set(OperatorContextKey, operatorID)
		c.Set(RoleContextKey, role)
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(RoleContextKey)
		if !exists || role != AdminRole {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetOperatorID(c *gin.Context) (string, error) {
	if val, ok := c.Get(OperatorContextKey); ok {
		if id, ok := val.(string); ok {
			return id, nil
		}
	}
	return "", errors.New("operator ID not found in context")
}
