package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"z-novel-pipeline/pkg/errors"
	"z-novel-pipeline/pkg/logger"
)

// ClientIDHeader 调用方标识头；缺省时按来源 IP 计数
const ClientIDHeader = "X-Client-ID"

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
	// KeyFunc 由调用方标识生成限流键
	KeyFunc func(clientID string) string
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// RateLimit 限流中间件；限流器故障时放行
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(id string) string { return "ratelimit:" + id }
	}

	return func(c *gin.Context) {
		clientID := c.GetHeader(ClientIDHeader)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		allowed, remaining, err := limiter.Allow(c.Request.Context(), cfg.KeyFunc(clientID), cfg.Limit, cfg.Window)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     http.StatusTooManyRequests,
				"message":  errors.ErrTooManyRequests.Message,
				"trace_id": c.GetString("trace_id"),
			})
			return
		}
		c.Next()
	}
}
