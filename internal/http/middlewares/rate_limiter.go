package middlewares

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key. Limits are per API
// instance; the Redis throttle covers routes that must be shared. Idle keys
// are dropped while serving requests, so there is nothing to stop.
type RateLimiter struct {
	mu         sync.Mutex
	every      rate.Limit
	burst      int
	idle       time.Duration
	sweepEvery time.Duration
	swept      time.Time
	clients    map[string]*visitor
	now        func() time.Time
}

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// NewRateLimiter allows limit requests per window, refilled smoothly.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	limit = max(limit, 1)
	return &RateLimiter{
		every:      rate.Every(window / time.Duration(limit)),
		burst:      limit,
		idle:       window,
		sweepEvery: max(window, time.Minute),
		clients:    make(map[string]*visitor),
		now:        time.Now,
	}
}

// allow takes a token for key. When none is left it reports the whole seconds
// until one is.
func (rl *RateLimiter) allow(key string) (bool, int) {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.swept) >= rl.sweepEvery {
		rl.sweepLocked(now)
	}
	v, ok := rl.clients[key]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rl.every, rl.burst)}
		rl.clients[key] = v
	}
	v.seen = now
	rl.mu.Unlock()

	res := v.bucket.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	if wait == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, int(math.Ceil(wait.Seconds()))
}

// Sweep forgets clients idle for a full window; their bucket would be full again.
func (rl *RateLimiter) Sweep() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweepLocked(now)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-rl.idle)
	for k, v := range rl.clients {
		if v.seen.Before(cutoff) {
			delete(rl.clients, k)
		}
	}
	rl.swept = now
}

func (rl *RateLimiter) RateLimiterMiddleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = clientIP(c)
		}

		if ok, retryAfter := rl.allow(c.FullPath() + "|" + key); !ok {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}
		c.Next()
	}
}

func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// KeyByUserOrIP buckets signed-in callers by user so a shared office IP does
// not starve them.
func KeyByUserOrIP(c *gin.Context) string {
	if id, ok := UserIDFromContext(c); ok && id != "" {
		return "user:" + id
	}
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		return host
	}
	return ip
}
