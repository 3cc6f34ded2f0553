package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/internal/apperr"
	"github.com/sentinel/fraud-engine/internal/auth"
	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/ratelimit"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns a request ID, honoring one supplied by
// the caller, and echoes it back on the response (teacher's
// cmd/api-server/main.go requestIDMiddleware).
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware emits one structured completed-request line per
// call, in the teacher's field set (method, path, status, latency,
// request_id, client_ip).
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		requestID, _ := c.Get("request_id")
		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Any("request_id", requestID).
			Str("client_ip", c.ClientIP()).
			Msg("request completed")
	}
}

// corsMiddleware allows cross-origin calls from any origin, matching
// the teacher's permissive dashboard-facing posture.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.APIKeyHeader+", "+requestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware enforces C12 per tenant, stamping X-RateLimit-*
// headers on every response regardless of outcome (spec §4.12) and
// bumping the daily call counter used by /client-info.
func rateLimitMiddleware(limiter *ratelimit.Limiter, counter *CallCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, ok := auth.TenantFromContext(c)
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), tenant.TenantID, tenant.RateLimitPerMinute)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetUnix, 10))

		if !result.Allowed {
			retryAfter := int(time.Until(time.Unix(result.ResetUnix, 0)).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			appErr := apperr.RateLimited("rate limit exceeded", retryAfter)
			c.Writer.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}

		if err := counter.Bump(c.Request.Context(), tenant.TenantID); err != nil {
			log.Warn().Err(err).Msg("failed to bump daily call counter")
		}

		c.Next()
	}
}

const dailyCounterTTL = 26 * time.Hour

// CallCounter tracks a tenant's calls-today count for /client-info, a
// day-bucketed sibling of ratelimit's minute bucket on the same store.
type CallCounter struct {
	store cache.Store
}

func NewCallCounter(store cache.Store) *CallCounter {
	return &CallCounter{store: store}
}

func (c *CallCounter) Bump(ctx context.Context, tenantID string) error {
	_, err := c.store.IncrWithTTL(ctx, dailyKey(tenantID, time.Now()), dailyCounterTTL)
	return err
}

func (c *CallCounter) Today(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := c.store.Get(ctx, dailyKey(tenantID, time.Now()), &n)
	if err == cache.ErrNotFound {
		return 0, nil
	}
	return n, err
}

func dailyKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("callcount:%s:%s", tenantID, at.UTC().Format("2006-01-02"))
}
