package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/clock"
)

// MemStore is an in-memory Store, used by tests and local development
// without a Redis dependency. The teacher has no cache test doubles at
// all; this is new, built to satisfy the same Store interface RedisStore
// does.
type MemStore struct {
	mu    sync.Mutex
	clk   clock.Clock
	items map[string]memItem
}

type memItem struct {
	data    []byte
	expires time.Time // zero means no expiry
}

func NewMemStore(clk clock.Clock) *MemStore {
	return &MemStore{clk: clk, items: make(map[string]memItem)}
}

func (m *MemStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{data: data, expires: m.expiry(ttl)}
	return nil
}

func (m *MemStore) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	item, ok := m.get(key)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(item.data, dest)
}

func (m *MemStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get(key)
	return ok, nil
}

func (m *MemStore) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.items[key] = memItem{data: data, expires: m.expiry(ttl)}
	return true, nil
}

func (m *MemStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.get(key)
	var current int64
	if ok {
		_ = json.Unmarshal(item.data, &current)
		current++
		data, _ := json.Marshal(current)
		item.data = data
		m.items[key] = item
		return current, nil
	}

	current = 1
	data, _ := json.Marshal(current)
	m.items[key] = memItem{data: data, expires: m.expiry(ttl)}
	return current, nil
}

// IncrDecimalWithTTL adds delta to the decimal sum at key under the
// same lock used by the rest of MemStore, so concurrent bumps never
// race the way a Get-then-Set pair would.
func (m *MemStore) IncrDecimalWithTTL(_ context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.get(key)
	var current decimal.Decimal
	if ok {
		_ = json.Unmarshal(item.data, &current)
	}
	updated := current.Add(delta)

	data, err := json.Marshal(updated)
	if err != nil {
		return decimal.Decimal{}, err
	}
	expires := item.expires
	if !ok {
		expires = m.expiry(ttl)
	}
	m.items[key] = memItem{data: data, expires: expires}
	return updated, nil
}

// Ping always succeeds: MemStore has no backing connection to check.
func (m *MemStore) Ping(_ context.Context) error { return nil }

// get returns the item for key, pruning it if expired. Caller must hold
// the lock.
func (m *MemStore) get(key string) (memItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !item.expires.IsZero() && m.clk.Now().After(item.expires) {
		delete(m.items, key)
		return memItem{}, false
	}
	return item, true
}

func (m *MemStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clk.Now().Add(ttl)
}
