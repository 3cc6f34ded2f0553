package api

import (
	"context"
	"testing"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
)

func TestCallCounterBumpAndToday(t *testing.T) {
	store := cache.NewMemStore(clock.SystemClock{})
	counter := NewCallCounter(store)
	ctx := context.Background()

	n, err := counter.Today(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error on first read: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 calls before any bump, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if err := counter.Bump(ctx, "tenant-1"); err != nil {
			t.Fatalf("bump %d failed: %v", i, err)
		}
	}

	n, err = counter.Today(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 calls today, got %d", n)
	}

	otherTenant, err := counter.Today(ctx, "tenant-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherTenant != 0 {
		t.Fatalf("expected tenant isolation, got %d calls for untouched tenant", otherTenant)
	}
}
