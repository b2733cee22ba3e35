package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cardreport/internal/observability/logger"
	"go.uber.org/zap"
)

// RecordRateLimit throttles record ingestion per client IP. A limiter
// failure rejects the request rather than letting it through unmetered.
func (s *Server) RecordRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.recordLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := s.recordLimiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("record rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			logger.FromContext(ctx).Warn("record rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.Int("retry_after", retry),
			)
			c.Header("Retry-After", strconv.Itoa(retry))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
