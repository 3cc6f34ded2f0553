package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction (tenant_id, transaction_id already scored)")
)

// TransactionRepository is the transactional store (C2) for
// Transaction records, scoped by (tenant_id, transaction_id). The
// uniqueness constraint on that pair is what makes "first writer wins"
// hold under concurrent retries (spec §5 ordering guarantees).
type TransactionRepository struct {
	db *Database
}

func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create persists a freshly-scored transaction. Returns
// ErrDuplicateTransaction if (tenant_id, transaction_id) already exists
// — the caller (idempotency/orchestrator) is responsible for having
// already checked GetByID first; this is the backstop for the race
// between two concurrent first-time requests.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			tenant_id, transaction_id, user_id, amount, currency, transaction_type,
			vertical, bvn_hash, phone_hash, email_hash, device_hash, ip_address,
			user_agent, device_fingerprint, location, created_at, processing_time_ms,
			risk_score, risk_level, recommendation, flags, consortium_match
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`

	tx.CreatedAt = time.Now()
	fingerprintBytes, _ := tx.DeviceFingerprint.Value()
	locationBytes, _ := json.Marshal(tx.Location)
	flagsBytes, _ := json.Marshal(tx.Flags)

	_, err := r.db.Pool.Exec(ctx, query,
		tx.TenantID, tx.TransactionID, tx.UserID, tx.Amount, tx.Currency, tx.TransactionType,
		tx.Vertical, tx.BVNHash, tx.PhoneHash, tx.EmailHash, tx.DeviceHash, tx.IPAddress,
		tx.UserAgent, fingerprintBytes, locationBytes, tx.CreatedAt, tx.ProcessingTimeMs,
		tx.RiskScore, tx.RiskLevel, tx.Recommendation, flagsBytes, tx.ConsortiumMatch,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// GetByID retrieves a transaction scoped to tenant_id + transaction_id.
func (r *TransactionRepository) GetByID(ctx context.Context, tenantID, transactionID string) (*models.Transaction, error) {
	query := `
		SELECT tenant_id, transaction_id, user_id, amount, currency, transaction_type,
			   vertical, bvn_hash, phone_hash, email_hash, device_hash, ip_address,
			   user_agent, device_fingerprint, location, created_at, processing_time_ms,
			   risk_score, risk_level, recommendation, flags, consortium_match,
			   actual_fraud, feedback_applied_at
		FROM transactions
		WHERE tenant_id = $1 AND transaction_id = $2
	`
	row := r.db.Pool.QueryRow(ctx, query, tenantID, transactionID)
	return scanTransaction(row)
}

// SetFeedback records the actual-fraud label. Returns
// (applied=false, nil) if feedback was already applied previously, so
// the caller can honor the spec's feedback-idempotence requirement
// without re-touching rule accuracy.
func (r *TransactionRepository) SetFeedback(ctx context.Context, tenantID, transactionID string, actualFraud bool, appliedAt time.Time) (applied bool, err error) {
	query := `
		UPDATE transactions
		SET actual_fraud = $3, feedback_applied_at = $4
		WHERE tenant_id = $1 AND transaction_id = $2 AND feedback_applied_at IS NULL
	`
	result, err := r.db.Pool.Exec(ctx, query, tenantID, transactionID, actualFraud, appliedAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// List returns a tenant's transactions, optionally filtered by risk
// level, paginated.
func (r *TransactionRepository) List(ctx context.Context, tenantID string, riskLevel string, limit, offset int) ([]*models.Transaction, int, error) {
	countQuery := `SELECT COUNT(*) FROM transactions WHERE tenant_id = $1 AND ($2 = '' OR risk_level = $2)`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, tenantID, riskLevel).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT tenant_id, transaction_id, user_id, amount, currency, transaction_type,
			   vertical, bvn_hash, phone_hash, email_hash, device_hash, ip_address,
			   user_agent, device_fingerprint, location, created_at, processing_time_ms,
			   risk_score, risk_level, recommendation, flags, consortium_match,
			   actual_fraud, feedback_applied_at
		FROM transactions
		WHERE tenant_id = $1 AND ($2 = '' OR risk_level = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID, riskLevel, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tx)
	}
	return out, total, nil
}

// DeviceHistory returns the summary of a device's most recent (up to 10)
// transactions for this tenant, used by the rule engine / ML scorer
// (spec §4.7 step 3).
func (r *TransactionRepository) DeviceHistory(ctx context.Context, tenantID, deviceHash string) (*models.DeviceHistory, error) {
	if deviceHash == "" {
		return &models.DeviceHistory{}, nil
	}

	query := `
		SELECT amount, actual_fraud
		FROM transactions
		WHERE tenant_id = $1 AND device_hash = $2
		ORDER BY created_at DESC
		LIMIT 10
	`
	rows, err := r.db.Pool.Query(ctx, query, tenantID, deviceHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := &models.DeviceHistory{}
	sum := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		var actualFraud *bool
		if err := rows.Scan(&amount, &actualFraud); err != nil {
			return nil, err
		}
		history.Count++
		sum = sum.Add(amount)
		if actualFraud != nil && *actualFraud {
			history.FraudCount++
		}
	}
	if history.Count > 0 {
		history.MeanAmount = sum.Div(decimal.NewFromInt(int64(history.Count)))
	}
	return history, nil
}

// Stats aggregates a tenant's transactions over the last `days` days for
// the /stats endpoint.
type Stats struct {
	TotalTransactions int
	FlaggedCount      int
	BlockedCount      int
	AvgRiskScore      float64
	HighRiskCount     int
	CriticalRiskCount int
}

func (r *TransactionRepository) GetStats(ctx context.Context, tenantID string, days int) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN recommendation = 'REVIEW' THEN 1 END),
			COUNT(CASE WHEN recommendation = 'REJECT' THEN 1 END),
			COALESCE(AVG(risk_score), 0),
			COUNT(CASE WHEN risk_level = 'high' THEN 1 END),
			COUNT(CASE WHEN risk_level = 'critical' THEN 1 END)
		FROM transactions
		WHERE tenant_id = $1 AND created_at >= NOW() - ($2 || ' days')::interval
	`
	s := &Stats{}
	err := r.db.Pool.QueryRow(ctx, query, tenantID, days).Scan(
		&s.TotalTransactions, &s.FlaggedCount, &s.BlockedCount,
		&s.AvgRiskScore, &s.HighRiskCount, &s.CriticalRiskCount,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var fingerprintBytes, locationBytes, flagsBytes []byte

	err := row.Scan(
		&tx.TenantID, &tx.TransactionID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.TransactionType,
		&tx.Vertical, &tx.BVNHash, &tx.PhoneHash, &tx.EmailHash, &tx.DeviceHash, &tx.IPAddress,
		&tx.UserAgent, &fingerprintBytes, &locationBytes, &tx.CreatedAt, &tx.ProcessingTimeMs,
		&tx.RiskScore, &tx.RiskLevel, &tx.Recommendation, &flagsBytes, &tx.ConsortiumMatch,
		&tx.ActualFraud, &tx.FeedbackAppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	tx.DeviceFingerprint.Scan(fingerprintBytes)
	if len(locationBytes) > 0 {
		_ = json.Unmarshal(locationBytes, &tx.Location)
	}
	if len(flagsBytes) > 0 {
		_ = json.Unmarshal(flagsBytes, &tx.Flags)
	}
	return tx, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
