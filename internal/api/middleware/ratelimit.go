package middleware

import (
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/gin-gonic/gin"
)

// maxTrackedClients bounds the number of per-IP limiters kept in memory
const maxTrackedClients = 4096

// RateLimit applies a token bucket per client IP. The least recently seen
// clients are evicted once maxTrackedClients is reached.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	limiters, err := lru.New(maxTrackedClients)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	var mu sync.Mutex

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
		l := rate.NewLimiter(rate.Limit(rps), burst)
		limiters.Add(ip, l)
		return l
	}

	retryAfter := "1"
	if rps > 0 && rps < 1 {
		retryAfter = strconv.Itoa(int(1/rps + 0.5))
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
