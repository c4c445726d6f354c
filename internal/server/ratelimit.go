package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter is kept after its last use.
const limiterIdleTTL = 10 * time.Minute

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *gocache.Cache
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &loginLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: gocache.New(limiterIdleTTL, time.Minute),
	}
}

func (l *loginLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		// Sliding expiry
		l.limiters.SetDefault(key, lim)
		return lim
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(key, lim)
	return lim
}

// Allow reports whether another attempt from key may proceed now.
func (l *loginLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	return l.get(key).Allow()
}

// middleware answers 429 once a client exceeds its budget. rejected renders
// the response.
func (l *loginLimiter) middleware(rejected func(c *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", "1")
		if rejected != nil {
			rejected(c)
		} else {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
		}
		c.Abort()
	}
}
