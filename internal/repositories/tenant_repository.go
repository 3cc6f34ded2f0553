package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/sentinel/fraud-engine/internal/models"
)

var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository is the C2-backed store for Tenant records, adapted
// from the teacher's AccountRepository CRUD shape.
type TenantRepository struct {
	db *Database
}

func NewTenantRepository(db *Database) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	query := `
		INSERT INTO tenants (
			tenant_id, name, api_key_hash, rate_limit_per_minute, vertical,
			enabled_rule_ids, ml_enabled, rule_score_weight, ml_weight,
			consortium_weight, webhook_url, webhook_secret, active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	t.CreatedAt = time.Now()
	ruleIDs := make([]int64, len(t.EnabledRuleIDs))
	for i, id := range t.EnabledRuleIDs {
		ruleIDs[i] = int64(id)
	}

	_, err := r.db.Pool.Exec(ctx, query,
		t.TenantID, t.Name, t.APIKeyHash, t.RateLimitPerMinute, t.Vertical,
		pq.Array(ruleIDs), t.MLEnabled, t.RuleScoreWeight, t.MLWeight,
		t.ConsortiumWeight, t.WebhookURL, t.WebhookSecret, t.Active, t.CreatedAt,
	)
	return err
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	query := `
		SELECT tenant_id, name, api_key_hash, rate_limit_per_minute, vertical,
			   enabled_rule_ids, ml_enabled, rule_score_weight, ml_weight,
			   consortium_weight, webhook_url, webhook_secret, active, created_at
		FROM tenants
		WHERE tenant_id = $1
	`
	return scanTenant(r.db.Pool.QueryRow(ctx, query, tenantID))
}

// GetByAPIKeyHash resolves the C14 Auth lookup: idhash.Hash(api key) -> tenant.
func (r *TenantRepository) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*models.Tenant, error) {
	query := `
		SELECT tenant_id, name, api_key_hash, rate_limit_per_minute, vertical,
			   enabled_rule_ids, ml_enabled, rule_score_weight, ml_weight,
			   consortium_weight, webhook_url, webhook_secret, active, created_at
		FROM tenants
		WHERE api_key_hash = $1
	`
	return scanTenant(r.db.Pool.QueryRow(ctx, query, apiKeyHash))
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	t := &models.Tenant{}
	var ruleIDs pq.Int64Array

	err := row.Scan(
		&t.TenantID, &t.Name, &t.APIKeyHash, &t.RateLimitPerMinute, &t.Vertical,
		&ruleIDs, &t.MLEnabled, &t.RuleScoreWeight, &t.MLWeight,
		&t.ConsortiumWeight, &t.WebhookURL, &t.WebhookSecret, &t.Active, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	t.EnabledRuleIDs = make([]int, len(ruleIDs))
	for i, id := range ruleIDs {
		t.EnabledRuleIDs[i] = int(id)
	}
	return t, nil
}
