package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JushBJJ/Wormhole/common/ratelimit"
)

// RateLimit throttles each client IP with its own token bucket.
func RateLimit(pool *ratelimit.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !pool.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
