package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinel/fraud-engine/internal/clock"
)

func TestSignIsHMACSHA256Hex(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	got := sign("secret", body)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("sign() = %q, want %q", got, want)
	}
}

func TestEnqueueDropsOldestOnFullQueue(t *testing.T) {
	d := NewDispatcher(Config{QueueSize: 1, Workers: 0}, clock.SystemClock{})

	d.Enqueue(Delivery{EventID: "first"})
	d.Enqueue(Delivery{EventID: "second"})

	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1 after overflowing a queue of size 1", d.Dropped())
	}

	select {
	case pending := <-d.queue:
		if pending.EventID != "second" {
			t.Errorf("expected the newest delivery to survive, got %q", pending.EventID)
		}
	default:
		t.Fatal("expected one delivery left in the queue")
	}
}

func TestDeliverySucceedsAndSignsRequest(t *testing.T) {
	var receivedSig string
	var receivedEvent string
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		receivedSig = r.Header.Get("X-Sentinel-Signature")
		receivedEvent = r.Header.Get("X-Sentinel-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(Config{QueueSize: 10, Workers: 1, MaxAttempts: 1, RequestTimeout: 2 * time.Second}, clock.SystemClock{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(Delivery{
		URL:       server.URL,
		Secret:    "shh",
		EventType: "transaction.flagged",
		EventID:   "evt-1",
		Payload:   map[string]string{"transaction_id": "tx-1"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", calls)
	}
	if receivedEvent != "transaction.flagged" {
		t.Errorf("X-Sentinel-Event = %q, want transaction.flagged", receivedEvent)
	}

	body, _ := json.Marshal(map[string]string{"transaction_id": "tx-1"})
	want := "sha256=" + sign("shh", body)
	if receivedSig != want {
		t.Errorf("X-Sentinel-Signature = %q, want %q", receivedSig, want)
	}
}

func TestDeliveryRetriesOn5xxAndStopsOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	d := NewDispatcher(Config{
		QueueSize: 10, Workers: 1, MaxAttempts: 5,
		BackoffBase: 10 * time.Millisecond, BackoffCap: 20 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}, clock.SystemClock{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(Delivery{URL: server.URL, Secret: "x", EventType: "t", EventID: "e", Payload: map[string]string{}})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond) // give a hypothetical third attempt a chance to (wrongly) fire

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected exactly 2 attempts (retry on 5xx, stop on 4xx), got %d", got)
	}
}

// TestBackoffUsesInjectedClock drives every retry wait through a Frozen
// clock instead of the wall clock: Frozen.After fires immediately, so
// all attempts against an always-failing server complete without the
// test sleeping in real time, and the clock ends up advanced by the
// sum of the backoff waits.
func TestBackoffUsesInjectedClock(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewDispatcher(Config{
		QueueSize: 10, Workers: 1, MaxAttempts: 3,
		BackoffBase: time.Second, BackoffCap: 4 * time.Second,
		RequestTimeout: 2 * time.Second,
	}, clk)

	d.deliver(context.Background(), Delivery{URL: server.URL, Secret: "x", EventType: "t", EventID: "e", Payload: map[string]string{}})

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected all 3 attempts to run, got %d", got)
	}
	// two backoff waits between three attempts: >= 1s then >= 2s, each
	// inflated by jitter of up to sleep/4.
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if elapsed := clk.Now().Sub(start); elapsed < time.Second+2*time.Second {
		t.Errorf("expected the clock to advance by at least the base backoff sum, got %v", elapsed)
	}
}
