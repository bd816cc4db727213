package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/toolmesh/toolmesh/internal/cache"
	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/logging"
	"github.com/toolmesh/toolmesh/pkg/metrics"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	})
}

// LoggingMiddleware provides structured logging for requests
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	})
}

// ErrorHandlingMiddleware recovers from panics and returns a 500 envelope
func ErrorHandlingMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		m.RecordPanic("api")
		logger.WithContext(c.Request.Context()).WithField("panic", recovered).Error("Panic recovered in request handler")
		InternalErrorResponse(c, "An internal error occurred")
		c.Abort()
	})
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})
}

// CORSMiddleware handles CORS with the configured origins. A "*" entry
// allows every origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			"X-Requested-With", "X-Request-ID",
		},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}

	allowAll := false
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	if allowAll || len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}

// RateLimitMiddleware provides Redis-backed per-IP rate limiting. Requests
// pass through unchecked when Redis is not configured or unreachable.
func RateLimitMiddleware(redis *cache.RedisClient, requests int, window time.Duration) gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		if redis == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:%s", c.ClientIP())

		count := 0
		if value, err := redis.Get(ctx, key); err == nil {
			count, _ = strconv.Atoi(value)
		} else if !errors.IsType(err, errors.ErrorTypeNotFound) {
			// Redis error, allow the request
			c.Next()
			return
		}

		if count >= requests {
			retryAfter := int(window.Seconds())
			if ttl, err := redis.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = int(ttl.Seconds())
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			TooManyRequestsResponse(c, "Rate limit exceeded")
			c.Abort()
			return
		}

		newCount, err := redis.IncrBy(ctx, key, 1)
		if err == nil && newCount == 1 {
			_ = redis.Expire(ctx, key, window)
		}

		c.Next()
	})
}
