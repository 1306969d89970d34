package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"notify-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateChecker is a sliding-window counter. *services.RedisService
// implements it.
type RateChecker interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type RateLimitMiddleware struct {
	checker RateChecker
	logger  zerolog.Logger
}

func NewRateLimitMiddleware(checker RateChecker, logger zerolog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		checker: checker,
		logger:  logger.With().Str("component", "rate_limit").Logger(),
	}
}

// RateLimit limits authenticated routes per user and endpoint. It must run
// after RequireAuth.
func (rm *RateLimitMiddleware) RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "")
			return
		}
		key := fmt.Sprintf("rate_limit:%s:%s", userID, c.FullPath())
		rm.check(c, key, requests, window)
	}
}

// RateLimitIP limits routes per client IP and endpoint.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.FullPath())
		rm.check(c, key, requests, window)
	}
}

// check fails open when the counter store is unreachable.
func (rm *RateLimitMiddleware) check(c *gin.Context, key string, requests int, window time.Duration) {
	allowed, err := rm.checker.CheckRateLimit(c.Request.Context(), key, requests, window)
	if err != nil {
		rm.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		c.Next()
		return
	}

	if !allowed {
		c.Header("Retry-After", fmt.Sprintf("%.0f", window.Seconds()))
		response.Error(c, http.StatusTooManyRequests, response.ErrCodeRateLimited,
			fmt.Sprintf("too many requests, limit %d per %v", requests, window))
		return
	}

	c.Next()
}
