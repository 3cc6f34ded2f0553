package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentinel/fraud-engine/internal/models"
)

// ConsortiumRepository is the transactional store backing C6: the
// cross-tenant aggregate keyed by (identifier_type, identifier_hash).
// Adapted from the teacher's RiskScoreRepository aggregate-query style.
type ConsortiumRepository struct {
	db *Database
}

func NewConsortiumRepository(db *Database) *ConsortiumRepository {
	return &ConsortiumRepository{db: db}
}

// GetByHashes reads every entry whose hash matches a non-empty input,
// for the C6 read contract (spec §4.4).
func (r *ConsortiumRepository) GetByHashes(ctx context.Context, pairs map[string]string) ([]*models.ConsortiumEntry, error) {
	var entries []*models.ConsortiumEntry
	for idType, hash := range pairs {
		if hash == "" {
			continue
		}
		query := `
			SELECT identifier_type, identifier_hash, fraud_count, total_count,
				   client_count, first_seen, last_seen
			FROM consortium_entries
			WHERE identifier_type = $1 AND identifier_hash = $2
		`
		e := &models.ConsortiumEntry{}
		err := r.db.Pool.QueryRow(ctx, query, idType, hash).Scan(
			&e.IdentifierType, &e.IdentifierHash, &e.FraudCount, &e.TotalCount,
			&e.ClientCount, &e.FirstSeen, &e.LastSeen,
		)
		if err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Upsert applies the C6 write contract atomically per entry (spec §4.4):
// total_count += 1, fraud_count += 1 iff isFraud, client_count tracked
// via a distinct-tenant side table, last_seen bumped.
func (r *ConsortiumRepository) Upsert(ctx context.Context, tenantID, identifierType, identifierHash string, isFraud bool, now time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		fraudIncrement := 0
		if isFraud {
			fraudIncrement = 1
		}

		upsertQuery := `
			INSERT INTO consortium_entries (
				identifier_type, identifier_hash, fraud_count, total_count,
				client_count, first_seen, last_seen
			) VALUES ($1, $2, $3, 1, 1, $4, $4)
			ON CONFLICT (identifier_type, identifier_hash) DO UPDATE SET
				fraud_count = consortium_entries.fraud_count + $3,
				total_count = consortium_entries.total_count + 1,
				last_seen = $4
		`
		if _, err := tx.Exec(ctx, upsertQuery, identifierType, identifierHash, fraudIncrement, now); err != nil {
			return err
		}

		observerQuery := `
			INSERT INTO consortium_observers (identifier_type, identifier_hash, tenant_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`
		if _, err := tx.Exec(ctx, observerQuery, identifierType, identifierHash, tenantID); err != nil {
			return err
		}

		clientCountQuery := `
			UPDATE consortium_entries SET client_count = (
				SELECT COUNT(DISTINCT tenant_id) FROM consortium_observers
				WHERE identifier_type = $1 AND identifier_hash = $2
			)
			WHERE identifier_type = $1 AND identifier_hash = $2
		`
		_, err := tx.Exec(ctx, clientCountQuery, identifierType, identifierHash)
		return err
	})
}

// InsightsSummary backs the /consortium-insights endpoint.
type InsightsSummary struct {
	TotalEntries int64
	TotalFraud   int64
	TotalObserved int64
}

func (r *ConsortiumRepository) Insights(ctx context.Context) (*InsightsSummary, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(fraud_count), 0), COALESCE(SUM(total_count), 0)
		FROM consortium_entries
	`
	s := &InsightsSummary{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(&s.TotalEntries, &s.TotalFraud, &s.TotalObserved)
	if err != nil {
		return nil, err
	}
	return s, nil
}
