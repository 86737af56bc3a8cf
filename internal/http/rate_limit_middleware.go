package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// domainLimiters holds one token bucket per sync domain. Domains are a small fixed set,
// so entries are never evicted.
type domainLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func (s *domainLimiters) get(domainName string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters[domainName]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.limiters[domainName] = limiter
	}
	return limiter
}

// SyncControlRateLimitMiddleware throttles sync controls (trigger, retry) per domain so
// a chatty UI cannot turn into a request storm against the backend.
//
// Returns:
//   - 429 Too Many Requests: Rate limit exceeded (includes Retry-After header)
//   - Continues: Request allowed within rate limit, or rps <= 0
func SyncControlRateLimitMiddleware(rps float64, burst int, logger *slog.Logger) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}

	store := &domainLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}

	return func(c *gin.Context) {
		domainName := c.Param("domain")
		limiter := store.get(domainName)

		if !limiter.Allow() {
			reservation := limiter.Reserve()
			retryAfter := int(math.Ceil(reservation.Delay().Seconds()))
			reservation.Cancel()

			logger.Debug("sync control rate limit exceeded",
				slog.String("domain", domainName),
				slog.Int("retry_after", retryAfter))

			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many sync requests. Please retry after the specified delay.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
