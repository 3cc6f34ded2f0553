package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/models"
)

func TestBumpAndReadCounts(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewMemStore(clk)
	tracker := NewTracker(store, clk)
	ctx := context.Background()
	key := Key("device", "abc123")

	tracker.Bump(ctx, key, decimal.NewFromInt(100))
	tracker.Bump(ctx, key, decimal.NewFromInt(50))

	reading := tracker.Read(ctx, key)
	if reading.Count1m != 2 || reading.Count10m != 2 || reading.Count1h != 2 || reading.Count24h != 2 {
		t.Errorf("expected all count windows to be 2 after two bumps, got %+v", reading)
	}
	if !reading.Amount1h.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Amount1h = %s, want 150", reading.Amount1h)
	}
	if !reading.Amount24h.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Amount24h = %s, want 150", reading.Amount24h)
	}
}

func TestReadUnknownKeyIsZero(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewMemStore(clk)
	tracker := NewTracker(store, clk)
	reading := tracker.Read(context.Background(), Key("device", "never-seen"))

	if reading.Count1m != 0 || reading.Count24h != 0 {
		t.Errorf("expected zero counts for an unseen key, got %+v", reading)
	}
	if !reading.Amount1h.IsZero() || !reading.Amount24h.IsZero() {
		t.Errorf("expected zero amounts for an unseen key, got %+v", reading)
	}
}

func TestEmptyKeyIsNoop(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := cache.NewMemStore(clk)
	tracker := NewTracker(store, clk)
	ctx := context.Background()

	tracker.Bump(ctx, "", decimal.NewFromInt(100))
	reading := tracker.Read(ctx, "")

	if reading.Count1m != 0 {
		t.Error("empty key should never be bumped or read")
	}
}

func TestKeyBuilding(t *testing.T) {
	if got := Key("phone", "hash1"); got != "phone:hash1" {
		t.Errorf("Key(\"phone\", \"hash1\") = %q, want \"phone:hash1\"", got)
	}
	if got := Key("device", ""); got != "" {
		t.Errorf("Key with empty hash should return empty string, got %q", got)
	}
}

// TestWindowRollsOverAfterTTL advances the tracker's own injected clock
// past the 1m window's TTL and confirms the short window resets while
// the longer windows, whose TTL hasn't elapsed yet, still hold.
func TestWindowRollsOverAfterTTL(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFrozen(start)
	store := cache.NewMemStore(clk)
	tracker := NewTracker(store, clk)
	ctx := context.Background()
	key := Key("device", "rollover")

	tracker.Bump(ctx, key, decimal.NewFromInt(10))

	clk.Advance(models.Window1m.TTL + time.Second)

	reading := tracker.Read(ctx, key)
	if reading.Count1m != 0 {
		t.Errorf("Count1m should have rolled over after its TTL elapsed, got %d", reading.Count1m)
	}
	if reading.Count10m != 1 {
		t.Errorf("Count10m should still hold the bump, got %d", reading.Count10m)
	}
}

// TestBumpAmountIsAtomicUnderConcurrency exercises the atomic
// increment primitive directly: launching concurrent bumps for the
// same key+window must account for every increment, the behavior a
// Get-then-Set pair cannot guarantee.
func TestBumpAmountIsAtomicUnderConcurrency(t *testing.T) {
	clk := clock.SystemClock{}
	store := cache.NewMemStore(clk)
	tracker := NewTracker(store, clk)
	ctx := context.Background()
	key := Key("device", "concurrent")

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			tracker.Bump(ctx, key, decimal.NewFromInt(1))
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	reading := tracker.Read(ctx, key)
	if !reading.Amount1h.Equal(decimal.NewFromInt(n)) {
		t.Errorf("Amount1h = %s, want %d after %d concurrent bumps", reading.Amount1h, n, n)
	}
}
