// Package consortium implements C6's read contract: combining
// per-hash ConsortiumEntry rows into a single signals result, honoring
// the ENABLE_CONSORTIUM toggle. Grounded on the teacher's RiskScore
// aggregation helpers, generalized to the spec's sum/sum/max formula
// (spec §4.4).
package consortium

import (
	"context"
	"time"

	"github.com/sentinel/fraud-engine/internal/models"
	"github.com/sentinel/fraud-engine/internal/repositories"
)

// Aggregator wraps ConsortiumRepository with the C6 read contract.
type Aggregator struct {
	repo    *repositories.ConsortiumRepository
	enabled bool
}

func NewAggregator(repo *repositories.ConsortiumRepository, enabled bool) *Aggregator {
	return &Aggregator{repo: repo, enabled: enabled}
}

// Signals implements spec §4.4's read contract. When consortium lookups
// are disabled (ENABLE_CONSORTIUM=false), it returns a neutral
// no-match signal without touching the store.
func (a *Aggregator) Signals(ctx context.Context, bvnHash, phoneHash, emailHash, deviceHash string) (models.ConsortiumSignals, error) {
	if !a.enabled {
		return models.ConsortiumSignals{}, nil
	}

	pairs := map[string]string{
		models.IdentifierBVN:    bvnHash,
		models.IdentifierPhone:  phoneHash,
		models.IdentifierEmail:  emailHash,
		models.IdentifierDevice: deviceHash,
	}

	entries, err := a.repo.GetByHashes(ctx, pairs)
	if err != nil {
		return models.ConsortiumSignals{}, err
	}
	if len(entries) == 0 {
		return models.ConsortiumSignals{}, nil
	}

	var fraudCount, totalCount int64
	var maxClients int
	for _, e := range entries {
		fraudCount += e.FraudCount
		totalCount += e.TotalCount
		if e.ClientCount > maxClients {
			maxClients = e.ClientCount
		}
	}

	signals := models.ConsortiumSignals{
		Match:       true,
		FraudCount:  fraudCount,
		TotalCount:  totalCount,
		ClientCount: maxClients,
	}
	if totalCount > 0 {
		signals.FraudRate = float64(fraudCount) / float64(totalCount)
	}
	return signals, nil
}

// RecordOutcome applies the C6 write contract for every non-empty
// identifier present on the transaction (invoked from the feedback
// handler, spec §4.4 write contract / §4.9). It runs even when
// consortium reads are disabled, so historical data keeps accruing.
func (a *Aggregator) RecordOutcome(ctx context.Context, tenantID string, tx *models.Transaction, isFraud bool, now time.Time) error {
	pairs := map[string]string{
		models.IdentifierBVN:    tx.BVNHash,
		models.IdentifierPhone:  tx.PhoneHash,
		models.IdentifierEmail:  tx.EmailHash,
		models.IdentifierDevice: tx.DeviceHash,
	}
	for idType, hash := range pairs {
		if hash == "" {
			continue
		}
		if err := a.repo.Upsert(ctx, tenantID, idType, hash, isFraud, now); err != nil {
			return err
		}
	}
	return nil
}
