package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (m *AuthMiddleware) RequireRole(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)

		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing identity context")
			return
		}
		if role != required {
			abortJSON(c, http.StatusForbidden, "forbidden", "Admin role required")
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the request carries a verified admin identity.
func IsAdmin(c *gin.Context, adminRole string) bool {
	role, ok := RoleFromContext(c)
	return ok && role == adminRole
}
