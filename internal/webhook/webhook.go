// Package webhook implements C11: a bounded in-process queue drained
// by a fixed worker pool, delivering HMAC-signed, retried POSTs.
// Grounded on yuno's webhook.Notifier (HTTP client shape, signature
// header naming) and the teacher's scoring/worker.go worker-pool
// lifecycle (Start/Stop, stopCh, sync.WaitGroup).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/internal/clock"
)

// Delivery is one pending webhook POST.
type Delivery struct {
	TenantID   string
	URL        string
	Secret     string
	EventType  string
	EventID    string
	Payload    interface{}
	enqueuedAt time.Time
}

// Dispatcher owns the bounded queue and worker pool.
type Dispatcher struct {
	queue       chan Delivery
	client      *http.Client
	clk         clock.Clock
	workers     int
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	wg      sync.WaitGroup
	stopCh  chan struct{}
	dropped int64
	mu      sync.Mutex
}

// Config mirrors configs.WebhookConfig.
type Config struct {
	QueueSize      int
	Workers        int
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

func NewDispatcher(cfg Config, clk clock.Clock) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &Dispatcher{
		queue:       make(chan Delivery, cfg.QueueSize),
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		clk:         clk,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the fixed worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, i)
	}
}

// Stop signals workers to exit and waits for them; deliveries still in
// the queue are not sent.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Enqueue is non-blocking: on a full queue, the oldest pending delivery
// is dropped (overflow counter incremented) to make room (spec §4.9).
func (d *Dispatcher) Enqueue(delivery Delivery) {
	delivery.enqueuedAt = d.clk.Now()
	select {
	case d.queue <- delivery:
	default:
		select {
		case <-d.queue:
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
		default:
		}
		select {
		case d.queue <- delivery:
		default:
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
		}
	}
}

// Dropped returns the overflow counter.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run(ctx context.Context, workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case delivery := <-d.queue:
			d.deliver(ctx, delivery)
		}
	}
}

// deliver performs the signed POST with retry/backoff per spec §4.9.
func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		log.Error().Str("tenant_id", delivery.TenantID).Err(err).Msg("webhook payload marshal failed")
		return
	}
	signature := sign(delivery.Secret, body)

	backoff := d.backoffBase
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		status, retryable, err := d.attempt(ctx, delivery, body, signature)

		log.Info().
			Str("tenant_id", delivery.TenantID).
			Str("event_id", delivery.EventID).
			Int("attempt", attempt).
			Int("status", status).
			AnErr("error", err).
			Msg("webhook delivery attempt")

		if err == nil && !retryable {
			return
		}
		if !retryable {
			return
		}
		if attempt == d.maxAttempts {
			return
		}

		sleep := backoff
		if sleep > d.backoffCap {
			sleep = d.backoffCap
		}
		jitter := time.Duration(rand.Int63n(int64(sleep) / 4 + 1))
		select {
		case <-d.clk.After(sleep + jitter):
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		}
		backoff *= 2
	}
}

// attempt performs a single POST. retryable is true for 5xx responses
// and transport errors; 4xx is terminal per spec §4.9.
func (d *Dispatcher) attempt(ctx context.Context, delivery Delivery, body []byte, signature string) (status int, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, delivery.URL, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Signature", "sha256="+signature)
	req.Header.Set("X-Sentinel-Event", delivery.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, true, fmt.Errorf("webhook responded with %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, false, fmt.Errorf("webhook responded with %d", resp.StatusCode)
	}
	return resp.StatusCode, false, nil
}

// sign returns the hex-encoded HMAC-SHA256 of body under secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
