// Package idempotency implements C8's two-level dedup: durable lookup
// by transaction_id (delegated to the transactional store) and a
// short-TTL content-hash cache for near-identical request bursts.
// Grounded on the teacher's ingestion handler's
// GetByIdempotencyKey-before-Create pattern, generalized into the
// spec's two-level contract.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/models"
	"github.com/sentinel/fraud-engine/internal/repositories"
)

// Checker composes both cache levels.
type Checker struct {
	store    cache.Store
	txRepo   *repositories.TransactionRepository
	cacheTTL time.Duration
}

func NewChecker(store cache.Store, txRepo *repositories.TransactionRepository, cacheTTL time.Duration) *Checker {
	return &Checker{store: store, txRepo: txRepo, cacheTTL: cacheTTL}
}

// Lookup performs both levels in order per spec §4.6: first by
// (tenant_id, transaction_id) in the durable store, then by a
// canonical-JSON content hash in the TTL cache. A hit at either level
// returns the stored transaction with Cached=true already set.
func (c *Checker) Lookup(ctx context.Context, tenantID, transactionID string, canonicalRequest interface{}) (*models.Transaction, error) {
	tx, err := c.txRepo.GetByID(ctx, tenantID, transactionID)
	if err == nil {
		tx.Cached = true
		return tx, nil
	}
	if !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, err
	}

	hash, err := ContentHash(canonicalRequest)
	if err != nil {
		return nil, err
	}

	var cached models.Transaction
	if err := c.store.Get(ctx, contentKey(hash), &cached); err == nil {
		cached.Cached = true
		return &cached, nil
	} else if err != cache.ErrNotFound {
		return nil, err
	}

	return nil, nil
}

// Store populates the content-hash cache level after a successful
// scoring. The durable level is populated by the caller persisting the
// Transaction via TransactionRepository.Create.
func (c *Checker) Store(ctx context.Context, canonicalRequest interface{}, result *models.Transaction) error {
	hash, err := ContentHash(canonicalRequest)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, contentKey(hash), result, c.cacheTTL)
}

// ContentHash computes SHA-256 over the canonical (sorted-key) JSON
// encoding of req, per spec §4.6. req's fields must already carry
// hashed PII, never raw.
func ContentHash(req interface{}) (string, error) {
	canonical, err := canonicalJSON(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-marshals req through a generic map so object keys
// come out sorted, giving a stable byte representation regardless of
// struct field order.
func canonicalJSON(req interface{}) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	case []interface{}:
		out := []byte("[")
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(val)
	}
}

func contentKey(hash string) string {
	return "idempotency:content:" + hash
}
