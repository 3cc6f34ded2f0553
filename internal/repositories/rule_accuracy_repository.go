package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sentinel/fraud-engine/internal/models"
)

var ErrRuleAccuracyNotFound = errors.New("rule accuracy not found")

// RuleAccuracyRepository persists the per-rule confusion matrix and
// derived weight the learning loop (C10) maintains, adapted from the
// teacher's AuditRepository CRUD shape.
type RuleAccuracyRepository struct {
	db *Database
}

func NewRuleAccuracyRepository(db *Database) *RuleAccuracyRepository {
	return &RuleAccuracyRepository{db: db}
}

// GetOrCreate returns the stored accuracy for ruleID, or a fresh record
// with weight 1.0 if none exists yet (spec §3 RuleAccuracy invariant).
func (r *RuleAccuracyRepository) GetOrCreate(ctx context.Context, ruleID int, ruleName string) (*models.RuleAccuracy, error) {
	query := `
		SELECT rule_id, rule_name, tp, fp, tn, fn, precision, recall, accuracy, weight, updated_at
		FROM rule_accuracy
		WHERE rule_id = $1
	`
	ra := &models.RuleAccuracy{}
	err := r.db.Pool.QueryRow(ctx, query, ruleID).Scan(
		&ra.RuleID, &ra.RuleName, &ra.TP, &ra.FP, &ra.TN, &ra.FN,
		&ra.Precision, &ra.Recall, &ra.Accuracy, &ra.Weight, &ra.UpdatedAt,
	)
	if err == nil {
		return ra, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	ra = &models.RuleAccuracy{RuleID: ruleID, RuleName: ruleName, Weight: 1.0, UpdatedAt: time.Now()}
	insert := `
		INSERT INTO rule_accuracy (rule_id, rule_name, tp, fp, tn, fn, precision, recall, accuracy, weight, updated_at)
		VALUES ($1,$2,0,0,0,0,0,0,0,1.0,$3)
		ON CONFLICT (rule_id) DO NOTHING
	`
	if _, err := r.db.Pool.Exec(ctx, insert, ruleID, ruleName, ra.UpdatedAt); err != nil {
		return nil, err
	}
	return ra, nil
}

// Update applies an already-recomputed RuleAccuracy under a per-rule
// critical section (a single-row UPDATE is atomic in Postgres; readers
// of GetOrCreate see either the pre- or post-image, never a partial
// write, satisfying spec §4.8's concurrency requirement).
func (r *RuleAccuracyRepository) Update(ctx context.Context, ra *models.RuleAccuracy) error {
	query := `
		UPDATE rule_accuracy
		SET tp=$2, fp=$3, tn=$4, fn=$5, precision=$6, recall=$7, accuracy=$8, weight=$9, updated_at=$10
		WHERE rule_id = $1
	`
	ra.UpdatedAt = time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		ra.RuleID, ra.TP, ra.FP, ra.TN, ra.FN, ra.Precision, ra.Recall, ra.Accuracy, ra.Weight, ra.UpdatedAt,
	)
	return err
}

// Weights returns the current weight for every known rule, keyed by
// rule id, for the rule engine's per-request snapshot read.
func (r *RuleAccuracyRepository) Weights(ctx context.Context) (map[int]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT rule_id, weight FROM rule_accuracy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var id int
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}
