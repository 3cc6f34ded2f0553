package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
)

func TestUnlimitedWhenLimitIsNonPositive(t *testing.T) {
	clk := clock.SystemClock{}
	limiter := NewLimiter(cache.NewMemStore(clk), clk)
	result, err := limiter.Allow(context.Background(), "tenant-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != -1 {
		t.Errorf("expected unlimited result for limit<=0, got %+v", result)
	}
}

func TestAllowsUpToLimitThenDenies(t *testing.T) {
	clk := clock.SystemClock{}
	limiter := NewLimiter(cache.NewMemStore(clk), clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "tenant-1", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Errorf("call %d should be allowed under a limit of 3", i+1)
		}
	}

	result, err := limiter.Allow(ctx, "tenant-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Error("4th call should be denied once the per-minute limit of 3 is exceeded")
	}
	if result.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 once over limit", result.Remaining)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	clk := clock.SystemClock{}
	limiter := NewLimiter(cache.NewMemStore(clk), clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, "tenant-a", 5)
	}

	result, err := limiter.Allow(ctx, "tenant-b", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("a different tenant's bucket should be unaffected by tenant-a's usage")
	}
}

// TestBucketResetsOnNextWindow drives the limiter's injected clock past
// a minute boundary and confirms the bucket (and its Allowed decision)
// rolls over instead of carrying the prior window's count forward.
func TestBucketResetsOnNextWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	clk := clock.NewFrozen(start)
	limiter := NewLimiter(cache.NewMemStore(clk), clk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Allow(ctx, "tenant-1", 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("call %d should be allowed under a limit of 2", i+1)
		}
	}

	denied, err := limiter.Allow(ctx, "tenant-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if denied.Allowed {
		t.Fatal("3rd call in the same minute should be denied")
	}

	clk.Advance(time.Minute)

	result, err := limiter.Allow(ctx, "tenant-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("the next minute's bucket should start fresh")
	}
	if result.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1 on the first call of a new window", result.Remaining)
	}
}
