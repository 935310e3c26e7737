package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"carelink-backend/internal/database"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
	"carelink-backend/pkg/response"
)

// RateLimiter limits requests per client. It counts in Redis when a client is
// configured and healthy, and falls back to in-process token buckets otherwise.
type RateLimiter struct {
	redisClient *database.RedisClient
	requests    int
	window      time.Duration
	metrics     *metrics.Metrics
	local       *localLimiter
}

// NewRateLimiter creates a new rate limiter.
// redisClient may be nil, in which case only the in-process limiter is used.
func NewRateLimiter(redisClient *database.RedisClient, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	if requests < 1 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
		metrics:     m,
		local:       newLocalLimiter(requests, window),
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := c.Get(ContextUserID); ok {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		endpoint := routeLabel(c)
		rl.metrics.RecordRateLimitHit(endpoint)

		allowed, remaining := rl.allow(c.Request.Context(), identifier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			rl.metrics.RecordRateLimitBlocked(endpoint)
			response.TooManyRequests(c, "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, identifier string) (bool, int) {
	if rl.redisClient != nil && !rl.redisClient.IsDegraded() {
		allowed, remaining, err := rl.checkRedis(ctx, identifier)
		if err == nil {
			return allowed, remaining
		}
		logger.Warn("Rate limit check failed, using local limiter",
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	return rl.local.allow(identifier)
}

// checkRedis implements a fixed window counter
func (rl *RateLimiter) checkRedis(ctx context.Context, identifier string) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s", identifier)

	var incr *redis.IntCmd
	err := rl.redisClient.SafeTxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	count := int(incr.Val())
	remaining := rl.requests - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= rl.requests, remaining, nil
}

// localLimiter keeps one token bucket per identifier
type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLocalLimiter(requests int, window time.Duration) *localLimiter {
	return &localLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
	}
}

func (l *localLimiter) allow(identifier string) (bool, int) {
	l.mu.Lock()
	limiter, ok := l.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[identifier] = limiter
	}
	l.mu.Unlock()

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}
