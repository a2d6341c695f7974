package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"pulse-backend/internal/ratelimit"
	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/metrics"
	"pulse-backend/pkg/response"
)

// Limiter is the subset of ratelimit.Limiter the middleware needs
type Limiter interface {
	Allow(ctx context.Context, action, actor string) ratelimit.Decision
}

// RateLimit throttles REST calls per authenticated user, falling back to the
// client IP before authentication has run.
func RateLimit(limiter Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Username(c)
		if actor == "" {
			actor = "ip:" + c.ClientIP()
		}

		d := limiter.Allow(c.Request.Context(), ratelimit.ActionREST, actor)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			if m != nil {
				m.RecordRateLimitBlocked(c.FullPath())
			}
			response.FromError(c, apperrors.RateLimitExceededError().WithDetails(gin.H{
				"limit":    d.Limit,
				"reset_at": d.ResetAt.Unix(),
			}))
			c.Abort()
			return
		}

		c.Next()
	}
}
