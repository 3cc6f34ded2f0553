package clock

import (
	"testing"
	"time"
)

func TestFrozenSetAndAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrozen(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(time.Hour)
	if want := start.Add(time.Hour); !c.Now().Equal(want) {
		t.Errorf("after Advance(1h), Now() = %v, want %v", c.Now(), want)
	}

	later := start.Add(24 * time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", c.Now(), later)
	}
}

func TestFrozenAfterAdvancesAndFiresImmediately(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrozen(start)

	select {
	case fired := <-c.After(5 * time.Minute):
		want := start.Add(5 * time.Minute)
		if !fired.Equal(want) {
			t.Errorf("After fired with %v, want %v", fired, want)
		}
	default:
		t.Fatal("Frozen.After should fire immediately without blocking")
	}

	if want := start.Add(5 * time.Minute); !c.Now().Equal(want) {
		t.Errorf("Now() after After(5m) = %v, want %v", c.Now(), want)
	}
}

func TestSystemClockReturnsRealTime(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("SystemClock.Now() = %v, want between %v and %v", got, before, after)
	}
}
