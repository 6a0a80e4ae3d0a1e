package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/actorctx"
	"github.com/railtrans/expo/internal/auth"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt TokenVerifier
}

func NewAuthMiddleware(jwt TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func (m *AuthMiddleware) setIdentity(c *gin.Context, claims *auth.Claims) {
	c.Set(ctxUserIDKey, claims.UserID)
	c.Set(ctxEmailKey, claims.Email)
	c.Set(ctxRoleKey, claims.Role)

	// repos read the actor from the request context for audit rows
	c.Request = c.Request.WithContext(actorctx.WithActor(c.Request.Context(), claims.Email))
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
			return
		}

		claims, err := m.jwt.VerifyAccessToken(raw)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired access token")
			return
		}

		m.setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAuth records the identity when a valid token is present and lets
// anonymous requests through. Public create routes use it to tell admin entries apart.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			if claims, err := m.jwt.VerifyAccessToken(raw); err == nil {
				m.setIdentity(c, claims)
			}
		}
		c.Next()
	}
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	return stringFrom(c, ctxUserIDKey)
}

func EmailFromContext(c *gin.Context) (string, bool) {
	return stringFrom(c, ctxEmailKey)
}

func RoleFromContext(c *gin.Context) (string, bool) {
	return stringFrom(c, ctxRoleKey)
}

func stringFrom(c *gin.Context, key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
