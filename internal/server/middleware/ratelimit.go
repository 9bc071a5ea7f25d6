package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/gatewayctl/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter throttles admin clients. A client is its admin key when it
// sends one and its IP otherwise.
type RateLimiter struct {
	clients map[string]*rate.Limiter
	mu      sync.RWMutex
	rps     rate.Limit
	burst   int
	logger  *zap.Logger
}

func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
	}
}

func clientKey(c *gin.Context) string {
	if key := c.GetHeader(HeaderAdminKey); key != "" {
		return "key:" + key
	}
	return "ip:" + c.ClientIP()
}

// limiterFor returns the limiter for a client, creating it on first use.
func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clients[client]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// another request may have created it meanwhile
	if limiter, exists = rl.clients[client]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[client] = limiter
	return limiter
}

// Middleware returns the gin handler. A non-positive rate disables limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rps <= 0 {
			c.Next()
			return
		}

		if !rl.limiterFor(clientKey(c)).Allow() {
			rl.logger.Warn("Admin rate limit exceeded",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{
				ErrorMsg: "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
