// Package ratelimit implements C12: a per-tenant fixed-window counter
// against the shared cache store. Grounded on the velocity tracker's
// IncrWithTTL lazy-TTL pattern (internal/velocity), narrowed to a
// single minute-bucket window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
)

const window = time.Minute

// Limiter enforces tenant.rate_limit_per_minute via an atomic
// increment-with-TTL primitive on the cache store.
type Limiter struct {
	store cache.Store
	clk   clock.Clock
}

func NewLimiter(store cache.Store, clk clock.Clock) *Limiter {
	return &Limiter{store: store, clk: clk}
}

// Result is returned on every check, for the response's X-RateLimit-*
// headers regardless of allow/deny outcome (spec §4.12).
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetUnix int64
}

// Allow increments the tenant's current-minute bucket and compares
// against limit. A limit <= 0 means unlimited.
func (l *Limiter) Allow(ctx context.Context, tenantID string, limit int) (Result, error) {
	now := l.clk.Now()
	bucket := now.Truncate(window)
	reset := bucket.Add(window)

	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, Remaining: -1, ResetUnix: reset.Unix()}, nil
	}

	key := bucketKey(tenantID, bucket)
	count, err := l.store.IncrWithTTL(ctx, key, window)
	if err != nil {
		return Result{}, err
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetUnix: reset.Unix(),
	}, nil
}

func bucketKey(tenantID string, bucket time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", tenantID, bucket.Unix())
}
