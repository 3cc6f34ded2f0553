// Package velocity implements C7: multi-window counters (and, for
// windows >= 1h, amount sums) per hashed identifier. Grounded on
// opensource-finance-osprey's velocity.GetTransactionCount naming and
// its cache.RedisCache.IncrementCounter lazy-TTL Lua script, adapted
// onto this repository's cache.Store interface.
package velocity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/models"
)

type Tracker struct {
	store cache.Store
	clk   clock.Clock
}

func NewTracker(store cache.Store, clk clock.Clock) *Tracker {
	return &Tracker{store: store, clk: clk}
}

// Bump increments every count window for key, and (for windows >= 1h)
// adds amount to the amount-sum windows. Transient store errors are
// logged and swallowed per spec §4.5 — a missed bump is acceptable, a
// corrupted count is not.
func (t *Tracker) Bump(ctx context.Context, key string, amount decimal.Decimal) {
	if key == "" {
		return
	}
	for _, w := range models.CountWindows {
		if _, err := t.store.IncrWithTTL(ctx, countKey(key, w), w.TTL); err != nil {
			log.Warn().Err(err).Str("identifier_key", key).Str("window", w.Name).
				Time("window_resets_at", t.clk.Now().Add(w.TTL)).Msg("velocity bump failed")
		}
	}
	for _, w := range models.AmountWindows {
		if err := t.bumpAmount(ctx, key, w, amount); err != nil {
			log.Warn().Err(err).Str("identifier_key", key).Str("window", w.Name).
				Time("window_resets_at", t.clk.Now().Add(w.TTL)).Msg("velocity amount bump failed")
		}
	}
}

// bumpAmount adds amount to the running sum for the window through the
// store's atomic increment primitive, re-arming the TTL only when the
// sum key is first created (same lazy-TTL approximation as the count
// windows). A plain Get-then-Set would race two concurrent bumps for
// the same key into losing an increment.
func (t *Tracker) bumpAmount(ctx context.Context, key string, w models.VelocityWindow, amount decimal.Decimal) error {
	_, err := t.store.IncrDecimalWithTTL(ctx, amountKey(key, w), amount, w.TTL)
	return err
}

// Read returns the four counts and two amount sums for key. Missing
// counters read as zero, never negative.
func (t *Tracker) Read(ctx context.Context, key string) models.VelocityReading {
	reading := models.VelocityReading{}
	if key == "" {
		return reading
	}

	reading.Count1m = t.readCount(ctx, key, models.Window1m)
	reading.Count10m = t.readCount(ctx, key, models.Window10m)
	reading.Count1h = t.readCount(ctx, key, models.Window1h)
	reading.Count24h = t.readCount(ctx, key, models.Window24h)
	reading.Amount1h = t.readAmount(ctx, key, models.Window1h)
	reading.Amount24h = t.readAmount(ctx, key, models.Window24h)
	return reading
}

func (t *Tracker) readCount(ctx context.Context, key string, w models.VelocityWindow) int64 {
	var count int64
	if err := t.store.Get(ctx, countKey(key, w), &count); err != nil {
		if err != cache.ErrNotFound {
			log.Warn().Err(err).Str("identifier_key", key).Msg("velocity read failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return count
}

func (t *Tracker) readAmount(ctx context.Context, key string, w models.VelocityWindow) decimal.Decimal {
	var amount decimal.Decimal
	if err := t.store.Get(ctx, amountKey(key, w), &amount); err != nil {
		return decimal.Zero
	}
	return amount
}

func countKey(key string, w models.VelocityWindow) string {
	return fmt.Sprintf("velocity:count:%s:%s", key, w.Name)
}

func amountKey(key string, w models.VelocityWindow) string {
	return fmt.Sprintf("velocity:amount:%s:%s", key, w.Name)
}

// Key builds the namespaced identifier key the tracker counts under
// (spec §4.5): device:<hash>, phone:<hash>, etc.
func Key(identifierType, hash string) string {
	if hash == "" {
		return ""
	}
	return identifierType + ":" + hash
}
