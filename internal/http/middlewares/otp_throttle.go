package middlewares

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// WindowCounter is backed by Redis so every API instance shares the same budget.
type WindowCounter interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// Throttle limits OTP traffic per client IP across instances. If Redis is
// unreachable the request goes through; the OTP service has its own per-email guard.
func Throttle(counter WindowCounter, prefix string, limit int, window time.Duration, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		key := "throttle:" + prefix + ":" + clientIP(c)

		ok, reset, err := counter.Hit(c.Request.Context(), key, limit, window)
		if err != nil {
			log.WarnContext(c.Request.Context(), "throttle unavailable", "prefix", prefix, "err", err)
			c.Next()
			return
		}

		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(reset.Seconds()))))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}
