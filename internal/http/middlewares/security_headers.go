package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiCSP = "default-src 'none'; frame-ancestors 'none'"
	// the sandbox checkout page is a small server-rendered form
	checkoutCSP = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"
	// uploaded images and PDFs are embedded by the registration frontend
	uploadsCSP = "default-src 'none'; img-src 'self'; sandbox"
)

// SecurityHeaders sets browser hardening headers. HSTS is only sent when the
// request arrived over TLS, directly or through a proxy.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Content-Security-Policy", cspFor(c.Request.URL.Path))

		if !strings.HasPrefix(c.Request.URL.Path, "/uploads/") {
			h.Set("X-Frame-Options", "DENY")
		}
		if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/auth/") {
			h.Set("Cache-Control", "no-store")
		}

		c.Next()
	}
}

func cspFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/payment/sandbox/"):
		return checkoutCSP
	case strings.HasPrefix(path, "/uploads/"):
		return uploadsCSP
	}
	return apiCSP
}
