package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSkyCam/internal/types"
)

const (
	ctxPermissions = "permissions"
	ctxUsername    = "username"
)

// AuthMiddleware validates bearer tokens
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid authorization header format", nil))
			return
		}

		claims, permissions, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("UNAUTHORIZED", "invalid or expired token", nil))
			return
		}

		c.Set(ctxPermissions, permissions)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(ctxPermissions)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("FORBIDDEN", "no permissions found", nil))
			return
		}

		for _, p := range perms.([]Permission) {
			if p == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden,
			types.NewErrorResponse("FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
	}
}

// Username returns the authenticated user, if any.
func Username(c *gin.Context) string {
	return c.GetString(ctxUsername)
}
