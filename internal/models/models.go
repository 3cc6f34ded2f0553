// Package models holds the domain types shared across the scoring
// pipeline: the request/response shapes, the persisted records, and the
// JSON-in-Postgres helper the teacher's models package established.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// JSONB marshals a map as a Postgres jsonb column, same contract as the
// teacher's models.JSONB.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for JSONB")
	}
	if len(bytes) == 0 {
		*j = JSONB{}
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Transaction type enum (spec §3).
const (
	TxLoanApplication     = "loan_application"
	TxLoanDisbursement    = "loan_disbursement"
	TxLoanRepayment       = "loan_repayment"
	TxTransfer            = "transfer"
	TxWithdrawal          = "withdrawal"
	TxDeposit             = "deposit"
	TxPurchase            = "purchase"
	TxCardTransaction     = "card_transaction"
	TxBetPlacement        = "bet_placement"
	TxBetWithdrawal       = "bet_withdrawal"
	TxCryptoDeposit       = "crypto_deposit"
	TxCryptoWithdrawal    = "crypto_withdrawal"
	TxMarketplaceListing  = "marketplace_listing"
	TxMarketplacePurchase = "marketplace_purchase"
)

// Vertical enum.
const (
	VerticalFintech     = "fintech"
	VerticalEcommerce   = "ecommerce"
	VerticalBetting     = "betting"
	VerticalCrypto      = "crypto"
	VerticalMarketplace = "marketplace"
)

// Risk level enum.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Recommendation enum.
const (
	RecommendApprove = "APPROVE"
	RecommendReview  = "REVIEW"
	RecommendReject  = "REJECT"
)

// Severity enum for Flags / rules.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Location is the optional geo blob on a Transaction.
type Location struct {
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	City    string  `json:"city,omitempty"`
	State   string  `json:"state,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Flag is a single triggered rule (spec §3).
type Flag struct {
	RuleID       int     `json:"rule_id"`
	RuleName     string  `json:"rule_name"`
	Severity     string  `json:"severity"`
	HumanMessage string  `json:"human_message"`
	Confidence   float64 `json:"confidence"`
}

// Transaction is the unit of scoring and the persisted record of an
// evaluated request.
type Transaction struct {
	TransactionID     string          `json:"transaction_id"`
	TenantID          string          `json:"tenant_id"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	TransactionType   string          `json:"transaction_type"`
	Vertical          string          `json:"vertical"`
	BVNHash           string          `json:"bvn_hash,omitempty"`
	PhoneHash         string          `json:"phone_hash,omitempty"`
	EmailHash         string          `json:"email_hash,omitempty"`
	DeviceHash        string          `json:"device_hash,omitempty"`
	DeviceID          string          `json:"-"` // raw, used only to derive DeviceHash; never persisted
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	DeviceFingerprint JSONB           `json:"device_fingerprint,omitempty"`
	Location          *Location       `json:"location,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ProcessingTimeMs  int64           `json:"processing_time_ms"`
	Cached            bool            `json:"cached"`
	RiskScore         int             `json:"risk_score"`
	RiskLevel         string          `json:"risk_level"`
	Recommendation    string          `json:"recommendation"`
	Flags             []Flag          `json:"flags"`
	ConsortiumMatch   bool            `json:"consortium_match"`
	ActualFraud       *bool           `json:"actual_fraud,omitempty"`
	FeedbackAppliedAt *time.Time      `json:"feedback_timestamp,omitempty"`
}

// Tenant holds per-client configuration (spec §3).
type Tenant struct {
	TenantID           string
	Name               string
	APIKeyHash         string
	RateLimitPerMinute int
	Vertical           string
	EnabledRuleIDs     []int // empty => all default rules for the vertical
	MLEnabled          bool
	RuleScoreWeight    float64
	MLWeight           float64
	ConsortiumWeight   float64
	WebhookURL         string
	WebhookSecret      string
	Active             bool
	CreatedAt          time.Time
}

// Weights returns the tenant's composite-score weights, defaulting to
// (0.5, 0.3, 0.2) when all three are zero (unset).
func (t *Tenant) Weights() (ruleW, mlW, consortiumW float64) {
	if t.RuleScoreWeight == 0 && t.MLWeight == 0 && t.ConsortiumWeight == 0 {
		return 0.5, 0.3, 0.2
	}
	return t.RuleScoreWeight, t.MLWeight, t.ConsortiumWeight
}

// RuleAccuracy is the per-rule confusion-matrix state the learning loop
// maintains (spec §3, §4.8).
type RuleAccuracy struct {
	RuleID         int
	RuleName       string
	TP, FP, TN, FN int
	Precision      float64
	Recall         float64
	Accuracy       float64
	Weight         float64
	UpdatedAt      time.Time
}

// Recompute refreshes the derived metrics from the confusion counts and
// clamps Weight into [0.1, 2.0], monotone in Accuracy (DESIGN.md Open
// Question 3).
func (r *RuleAccuracy) Recompute() {
	if r.TP+r.FP > 0 {
		r.Precision = float64(r.TP) / float64(r.TP+r.FP)
	}
	if r.TP+r.FN > 0 {
		r.Recall = float64(r.TP) / float64(r.TP+r.FN)
	}
	total := r.TP + r.FP + r.TN + r.FN
	if total > 0 {
		r.Accuracy = float64(r.TP+r.TN) / float64(total)
	}
	r.Weight = clamp(r.Accuracy, 0.1, 2.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IdentifierType enumerates the hashed-identifier namespaces used by
// velocity and consortium (spec §4.4, §4.5).
const (
	IdentifierDevice = "device"
	IdentifierPhone  = "phone"
	IdentifierEmail  = "email"
	IdentifierBVN    = "bvn"
	IdentifierIP     = "ip"
)

// ConsortiumEntry is the cross-tenant aggregate keyed by (identifier
// type, identifier hash) (spec §3, §4.4).
type ConsortiumEntry struct {
	IdentifierType string
	IdentifierHash string
	FraudCount     int64
	TotalCount     int64
	ClientCount    int
	FirstSeen      time.Time
	LastSeen       time.Time
}

// FraudRate returns fraud_count / total_count, or 0 when there is no
// data yet.
func (c *ConsortiumEntry) FraudRate() float64 {
	if c.TotalCount == 0 {
		return 0
	}
	return float64(c.FraudCount) / float64(c.TotalCount)
}

// VelocityWindow enumerates the fixed windows the tracker maintains
// (spec §4.5).
type VelocityWindow struct {
	Name string
	TTL  time.Duration
}

var (
	Window1m  = VelocityWindow{"1m", time.Minute}
	Window10m = VelocityWindow{"10m", 10 * time.Minute}
	Window1h  = VelocityWindow{"1h", time.Hour}
	Window24h = VelocityWindow{"24h", 24 * time.Hour}
)

// CountWindows is every window the tracker counts events in.
var CountWindows = []VelocityWindow{Window1m, Window10m, Window1h, Window24h}

// AmountWindows is the subset of windows that also sum transaction
// amounts (>= 1h per spec §4.5).
var AmountWindows = []VelocityWindow{Window1h, Window24h}

// VelocityReading is the result of reading all windows for one
// identifier key.
type VelocityReading struct {
	Count1m, Count10m, Count1h, Count24h int64
	Amount1h, Amount24h                  decimal.Decimal
}

// DeviceHistory summarises a device's recent transactions, capped at 10,
// used by the rule engine and ML scorer (spec §4.7 step 3).
type DeviceHistory struct {
	Count      int
	FraudCount int
	MeanAmount decimal.Decimal
}

// FraudRatio returns FraudCount/Count, or 0 for an empty history.
func (d *DeviceHistory) FraudRatio() float64 {
	if d.Count == 0 {
		return 0
	}
	return float64(d.FraudCount) / float64(d.Count)
}

// ConsortiumSignals is the read-contract result from C6 (spec §4.4).
type ConsortiumSignals struct {
	Match       bool
	FraudRate   float64
	ClientCount int
	FraudCount  int64
	TotalCount  int64
}

// Pagination mirrors the teacher's pagination helper shape.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedTransactions is the paginated response for the transaction
// listing endpoint.
type PaginatedTransactions struct {
	Data       []*Transaction `json:"data"`
	Pagination Pagination     `json:"pagination"`
}
