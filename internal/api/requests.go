package api

import (
	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

// CheckTransactionRequest is the body of POST /check-transaction, field
// names following spec §3's Transaction attributes. Binding tags are
// validated by go-playground/validator the way the teacher's
// TransactionRequest did.
type CheckTransactionRequest struct {
	TransactionID     string            `json:"transaction_id" binding:"required"`
	UserID            string            `json:"user_id" binding:"required"`
	Amount            decimal.Decimal   `json:"amount" binding:"required"`
	Currency          string            `json:"currency" binding:"required,len=3"`
	TransactionType   string            `json:"transaction_type" binding:"required"`
	Vertical          string            `json:"vertical" binding:"required"`
	BVN               string            `json:"bvn"`
	Phone             string            `json:"phone"`
	Email             string            `json:"email"`
	DeviceID          string            `json:"device_id"`
	IPAddress         string            `json:"ip" binding:"required"`
	UserAgent         string            `json:"user_agent"`
	DeviceFingerprint models.JSONB     `json:"device_fingerprint,omitempty"`
	Location          *models.Location `json:"location,omitempty"`
}

// CheckTransactionsBatchRequest is the body of POST
// /check-transactions-batch, capped at 100 items per spec §6.
type CheckTransactionsBatchRequest struct {
	Transactions []CheckTransactionRequest `json:"transactions" binding:"required,min=1,max=100"`
}

// TransactionResponse is the public shape for a scored transaction
// (spec §6): a deliberately narrower projection than the persisted
// models.Transaction — it never echoes hashed PII or raw identifiers
// back to the caller.
type TransactionResponse struct {
	TransactionID    string        `json:"transaction_id"`
	RiskScore        int           `json:"risk_score"`
	RiskLevel        string        `json:"risk_level"`
	Recommendation   string        `json:"recommendation"`
	Flags            []models.Flag `json:"flags"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Cached           bool          `json:"cached"`
	ConsortiumMatch  bool          `json:"consortium_match"`
}

func toTransactionResponse(tx *models.Transaction) TransactionResponse {
	flags := tx.Flags
	if flags == nil {
		flags = []models.Flag{}
	}
	return TransactionResponse{
		TransactionID:    tx.TransactionID,
		RiskScore:        tx.RiskScore,
		RiskLevel:        tx.RiskLevel,
		Recommendation:   tx.Recommendation,
		Flags:            flags,
		ProcessingTimeMs: tx.ProcessingTimeMs,
		Cached:           tx.Cached,
		ConsortiumMatch:  tx.ConsortiumMatch,
	}
}

// BatchResponse is the response for POST /check-transactions-batch.
type BatchResponse struct {
	Results          []BatchResult `json:"results"`
	TotalProcessed   int           `json:"total_processed"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

// BatchResult carries either a scored transaction or a per-item error,
// keyed back to the caller's transaction_id.
type BatchResult struct {
	TransactionID string               `json:"transaction_id"`
	Result        *TransactionResponse `json:"result,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// FeedbackRequest is the body of POST /feedback (spec §4.8).
type FeedbackRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	ActualFraud   bool   `json:"actual_fraud"`
	Notes         string `json:"notes,omitempty"`
}

// ClientInfoResponse is the response for GET /client-info.
type ClientInfoResponse struct {
	TenantName         string `json:"tenant_name"`
	Plan               string `json:"plan"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	CallsToday         int64  `json:"calls_today"`
}

// ConsortiumInsightsResponse is the response for GET
// /consortium-insights — aggregate counts only, never per-identifier
// detail, since the consortium store is shared across tenants.
type ConsortiumInsightsResponse struct {
	TotalEntries  int64   `json:"total_entries"`
	TotalFraud    int64   `json:"total_fraud"`
	TotalObserved int64   `json:"total_observed"`
	FraudRate     float64 `json:"fraud_rate"`
}

// StatsResponse is the response for GET /stats.
type StatsResponse struct {
	Days              int     `json:"days"`
	TotalTransactions int     `json:"total_transactions"`
	FlaggedCount      int     `json:"flagged_count"`
	BlockedCount      int     `json:"blocked_count"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
	HighRiskCount     int     `json:"high_risk_count"`
	CriticalRiskCount int     `json:"critical_risk_count"`
}
