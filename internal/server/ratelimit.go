package server

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/printora/internal/actorcontext"
)

// rateLimiter is a fixed-window counter keyed by caller. Good enough for a
// single instance; a shared store would be needed behind a load balancer.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]int
	resets map[string]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int),
		resets: make(map[string]time.Time),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if reset, ok := rl.resets[key]; !ok || now.After(reset) {
		rl.counts[key] = 0
		rl.resets[key] = now.Add(rl.window)
	}
	if rl.counts[key] >= rl.limit {
		return false
	}
	rl.counts[key]++
	return true
}

// OrderIntakeRateLimit caps order creation per tenant so a stuck client
// cannot burn through stock allocations.
func (s *Server) OrderIntakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "anonymous"
		if tenantID, ok := actorcontext.TenantFromContext(c.Request.Context()); ok {
			key = tenantID.String()
		} else if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
			key = ip
		}

		if !s.orderLimiter.allow(key) {
			c.Header("Retry-After", "60")
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
