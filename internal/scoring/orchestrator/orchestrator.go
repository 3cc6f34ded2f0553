// Package orchestrator implements C9: the end-to-end scoring pipeline
// composing C3 through C8 and C11. Adapted from the teacher's
// ScoringEngine.ScoreTransaction (kept: the overall step order —
// fetch/compute-features/apply-rules/score-ML/compose/persist/cache —
// and structured per-field logging of the final decision) rewritten
// around the spec's hashed-identifier, multi-tenant, rule-catalogue
// model instead of the teacher's single-tenant account/AB-test/
// backtest machinery (spec §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/apperr"
	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/clock"
	"github.com/sentinel/fraud-engine/internal/idempotency"
	"github.com/sentinel/fraud-engine/internal/idhash"
	"github.com/sentinel/fraud-engine/internal/models"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/consortium"
	"github.com/sentinel/fraud-engine/internal/scoring/mlscorer"
	"github.com/sentinel/fraud-engine/internal/scoring/rules"
	"github.com/sentinel/fraud-engine/internal/velocity"
	"github.com/sentinel/fraud-engine/internal/webhook"
)

// ScoreRequest is the raw, not-yet-hashed input to a single scoring
// call — one HTTP request body maps to exactly one of these.
type ScoreRequest struct {
	TransactionID     string
	UserID            string
	Amount            decimal.Decimal
	Currency          string
	TransactionType   string
	Vertical          string
	BVN               string
	Phone             string
	Email             string
	DeviceID          string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint models.JSONB
	Location          *models.Location
}

// canonicalRequest is what C8's content hash is computed over: the
// hashed form of a ScoreRequest, never the raw PII fields.
type canonicalRequest struct {
	UserID          string `json:"user_id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionType string `json:"transaction_type"`
	Vertical        string `json:"vertical"`
	BVNHash         string `json:"bvn_hash"`
	PhoneHash       string `json:"phone_hash"`
	EmailHash       string `json:"email_hash"`
	DeviceHash      string `json:"device_hash"`
	IPAddress       string `json:"ip_address"`
}

// Thresholds holds the risk-level cut points. HighThreshold and
// MediumThreshold are operator-configurable (RISK_THRESHOLD_HIGH,
// RISK_THRESHOLD_MEDIUM, spec §6); the critical cut point is the fixed
// criticalThreshold constant (85) per spec §4.7 step 8, which names it as a constant, not an
// environment key.
type Thresholds struct {
	HighThreshold   int
	MediumThreshold int
}

const criticalThreshold = 85

func (t Thresholds) normalize() Thresholds {
	if t.HighThreshold <= 0 {
		t.HighThreshold = 70
	}
	if t.MediumThreshold <= 0 {
		t.MediumThreshold = 40
	}
	return t
}

// Orchestrator wires every scoring collaborator together.
type Orchestrator struct {
	idemChecker *idempotency.Checker
	velocity    *velocity.Tracker
	txRepo      *repositories.TransactionRepository
	accuracy    *repositories.RuleAccuracyRepository
	ruleEngine  *rules.Engine
	mlScorer    mlscorer.Scorer
	aggregator  *consortium.Aggregator
	dispatcher  *webhook.Dispatcher
	locations   cache.Store
	clk         clock.Clock
	thresholds  Thresholds
}

func New(
	idemChecker *idempotency.Checker,
	tracker *velocity.Tracker,
	txRepo *repositories.TransactionRepository,
	accuracy *repositories.RuleAccuracyRepository,
	ruleEngine *rules.Engine,
	mlScorer mlscorer.Scorer,
	aggregator *consortium.Aggregator,
	dispatcher *webhook.Dispatcher,
	locations cache.Store,
	clk clock.Clock,
	thresholds Thresholds,
) *Orchestrator {
	return &Orchestrator{
		idemChecker: idemChecker,
		velocity:    tracker,
		txRepo:      txRepo,
		accuracy:    accuracy,
		thresholds:  thresholds.normalize(),
		ruleEngine:  ruleEngine,
		mlScorer:    mlScorer,
		aggregator:  aggregator,
		dispatcher:  dispatcher,
		locations:   locations,
		clk:         clk,
	}
}

// defaultPipelineTimeout bounds one Score call end to end; an earlier
// deadline already on the caller's context still applies.
const defaultPipelineTimeout = 2 * time.Second

// Score runs the full 13-step pipeline from spec §4.7.
func (o *Orchestrator) Score(ctx context.Context, tenant *models.Tenant, req ScoreRequest) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultPipelineTimeout)
	defer cancel()

	start := o.clk.Now()

	// Step 2 runs ahead of step 1 here: the content hash the dedup
	// cache keys on must never carry raw PII (spec §4.6), so PII is
	// hashed via C3 first and the dedup check uses the hashed form.
	bvnHash := idhash.Hash(req.BVN)
	phoneHash := idhash.HashPhone(req.Phone)
	emailHash := idhash.HashEmail(req.Email)
	deviceHash := idhash.Hash(req.DeviceID)

	canonical := canonicalRequest{
		UserID:          req.UserID,
		Amount:          req.Amount.String(),
		Currency:        req.Currency,
		TransactionType: req.TransactionType,
		Vertical:        req.Vertical,
		BVNHash:         bvnHash,
		PhoneHash:       phoneHash,
		EmailHash:       emailHash,
		DeviceHash:      deviceHash,
		IPAddress:       req.IPAddress,
	}

	// Step 1: dedup. On hit, return immediately — no re-evaluation, no
	// velocity bump, no webhook (spec §4.6).
	cached, err := o.idemChecker.Lookup(ctx, tenant.TenantID, req.TransactionID, canonical)
	if err != nil {
		log.Warn().Err(err).Msg("idempotency lookup failed, proceeding as a fresh evaluation")
	} else if cached != nil {
		return cached, nil
	}

	tx := &models.Transaction{
		TransactionID:     req.TransactionID,
		TenantID:          tenant.TenantID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		TransactionType:   req.TransactionType,
		Vertical:          req.Vertical,
		BVNHash:           bvnHash,
		PhoneHash:         phoneHash,
		EmailHash:         emailHash,
		DeviceHash:        deviceHash,
		DeviceID:          req.DeviceID,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
		CreatedAt:         start,
	}

	// Step 3: assemble context. Independent reads; any individual
	// failure degrades that signal to absent rather than failing the
	// request (spec §4.7 step 3, error policy).
	velocityDevice, velocityPhone, velocityEmail, velocityBVN, velocityIP, deviceHistory, signals, lastLocation := o.assembleContext(ctx, tenant.TenantID, deviceHash, phoneHash, emailHash, bvnHash, req.IPAddress)

	ruleCtx := &rules.Context{
		Now: start,
		Velocity: map[string]models.VelocityReading{
			models.IdentifierDevice: velocityDevice,
			models.IdentifierPhone:  velocityPhone,
			models.IdentifierEmail:  velocityEmail,
			models.IdentifierBVN:    velocityBVN,
			models.IdentifierIP:     velocityIP,
		},
		DeviceHistory:  deviceHistory,
		LastLocation:   lastLocation,
		EnabledRuleIDs: tenant.EnabledRuleIDs,
		Weights:        o.ruleWeights(ctx),
	}

	// Step 4: rule evaluation.
	ruleResult := o.ruleEngine.Evaluate(tx, ruleCtx)

	// Step 5: ML prediction, only if the tenant has it enabled.
	mlP := 0.0
	if tenant.MLEnabled && o.mlScorer != nil {
		fctx := mlscorer.Context{VelocityDevice: velocityDevice, VelocityPhone: velocityPhone, DeviceHistory: deviceHistory}
		p, err := o.mlScorer.Predict(ctx, tx, fctx)
		if err != nil {
			log.Warn().Err(err).Msg("ml scorer failed, degrading to neutral signal")
		} else {
			mlP = p
		}
	}

	// Step 6: composite score.
	ruleW, mlW, consortiumW := tenant.Weights()
	raw := ruleW*float64(ruleResult.RuleScore) + 100*mlW*mlP + 100*consortiumW*signals.FraudRate
	riskScore := int(math.Round(math.Min(100, raw)))

	flags := ruleResult.Flags

	// Step 7: consortium flag.
	if signals.Match {
		flags = append(flags, models.Flag{
			RuleID:       0,
			RuleName:     "ConsortiumMatch",
			Severity:     models.SeverityHigh,
			HumanMessage: "identifier has a cross-tenant fraud history",
			Confidence:   signals.FraudRate,
		})
	}

	// Step 8: risk level & recommendation.
	riskLevel := o.thresholds.riskLevelFor(riskScore)
	recommendation := o.thresholds.recommendationFor(riskScore, flags)

	tx.RiskScore = riskScore
	tx.RiskLevel = riskLevel
	tx.Recommendation = recommendation
	tx.Flags = flags
	tx.ConsortiumMatch = signals.Match
	tx.ProcessingTimeMs = o.clk.Now().Sub(start).Milliseconds()

	// Step 9: persist. The only hard failure in the pipeline — the
	// decision must not be returned if it cannot be durably recorded
	// (spec §4.7 error policy).
	if err := o.txRepo.Create(ctx, tx); err != nil {
		return nil, apperr.DependencyUnavailable("failed to persist scoring result")
	}

	// Step 10: bump velocity for every non-empty hashed identifier + IP.
	o.bumpVelocity(ctx, deviceHash, phoneHash, emailHash, bvnHash, req.IPAddress, tx.Amount)
	o.recordLocation(ctx, deviceHash, req.Location, start)

	// Step 11: cache write for both idempotency levels.
	if err := o.idemChecker.Store(ctx, canonical, tx); err != nil {
		log.Warn().Err(err).Msg("idempotency cache write failed")
	}

	// Step 12: webhook, non-blocking.
	if (riskLevel == models.RiskHigh || riskLevel == models.RiskCritical) && tenant.WebhookURL != "" {
		o.dispatcher.Enqueue(webhook.Delivery{
			TenantID:  tenant.TenantID,
			URL:       tenant.WebhookURL,
			Secret:    tenant.WebhookSecret,
			EventType: "transaction.scored",
			EventID:   tx.TransactionID,
			Payload: map[string]interface{}{
				"event_id":   tx.TransactionID,
				"event_type": "transaction.scored",
				"created_at": tx.CreatedAt,
				"data":       tx,
			},
		})
	}

	log.Info().
		Str("tenant_id", tenant.TenantID).
		Str("transaction_id", tx.TransactionID).
		Int("risk_score", riskScore).
		Str("risk_level", riskLevel).
		Str("recommendation", recommendation).
		Int64("processing_time_ms", tx.ProcessingTimeMs).
		Msg("transaction scored")

	return tx, nil
}

func (o *Orchestrator) assembleContext(
	ctx context.Context,
	tenantID, deviceHash, phoneHash, emailHash, bvnHash, ip string,
) (deviceV, phoneV, emailV, bvnV, ipV models.VelocityReading, history models.DeviceHistory, signals models.ConsortiumSignals, lastLocation *rules.LocationObservation) {
	var wg sync.WaitGroup
	wg.Add(7)

	go func() { defer wg.Done(); deviceV = o.velocity.Read(ctx, velocity.Key(models.IdentifierDevice, deviceHash)) }()
	go func() { defer wg.Done(); phoneV = o.velocity.Read(ctx, velocity.Key(models.IdentifierPhone, phoneHash)) }()
	go func() { defer wg.Done(); emailV = o.velocity.Read(ctx, velocity.Key(models.IdentifierEmail, emailHash)) }()
	go func() { defer wg.Done(); bvnV = o.velocity.Read(ctx, velocity.Key(models.IdentifierBVN, bvnHash)) }()
	go func() { defer wg.Done(); ipV = o.velocity.Read(ctx, velocity.Key(models.IdentifierIP, ip)) }()

	go func() {
		defer wg.Done()
		h, err := o.txRepo.DeviceHistory(ctx, tenantID, deviceHash)
		if err != nil {
			log.Warn().Err(err).Msg("device history read failed, treating as absent")
			return
		}
		history = *h
	}()

	go func() {
		defer wg.Done()
		s, err := o.aggregator.Signals(ctx, bvnHash, phoneHash, emailHash, deviceHash)
		if err != nil {
			log.Warn().Err(err).Msg("consortium read failed, treating as absent")
			return
		}
		signals = s
	}()

	wg.Wait()

	lastLocation = o.readLastLocation(ctx, deviceHash)
	return
}

// ruleWeights reads the learned per-rule weights; a read failure
// degrades to the engine's built-in default of 1.0 per rule.
func (o *Orchestrator) ruleWeights(ctx context.Context) map[int]float64 {
	weights, err := o.accuracy.Weights(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("rule weight read failed, using default weight of 1.0")
		return nil
	}
	return weights
}

func (o *Orchestrator) bumpVelocity(ctx context.Context, deviceHash, phoneHash, emailHash, bvnHash, ip string, amount decimal.Decimal) {
	for idType, hash := range map[string]string{
		models.IdentifierDevice: deviceHash,
		models.IdentifierPhone:  phoneHash,
		models.IdentifierEmail:  emailHash,
		models.IdentifierBVN:    bvnHash,
		models.IdentifierIP:     ip,
	} {
		if hash == "" {
			continue
		}
		o.velocity.Bump(ctx, velocity.Key(idType, hash), amount)
	}
}

const locationTTL = 24 * time.Hour

func (o *Orchestrator) lastLocationKey(deviceHash string) string {
	return "lastlocation:" + deviceHash
}

func (o *Orchestrator) readLastLocation(ctx context.Context, deviceHash string) *rules.LocationObservation {
	if deviceHash == "" {
		return nil
	}
	var obs rules.LocationObservation
	if err := o.locations.Get(ctx, o.lastLocationKey(deviceHash), &obs); err != nil {
		return nil
	}
	return &obs
}

func (o *Orchestrator) recordLocation(ctx context.Context, deviceHash string, loc *models.Location, at time.Time) {
	if deviceHash == "" || loc == nil {
		return
	}
	obs := rules.LocationObservation{Lat: loc.Lat, Lon: loc.Lon, At: at}
	if err := o.locations.Set(ctx, o.lastLocationKey(deviceHash), obs, locationTTL); err != nil {
		log.Warn().Err(err).Msg("failed to record device location lookaside")
	}
}

func (t Thresholds) riskLevelFor(score int) string {
	switch {
	case score >= criticalThreshold:
		return models.RiskCritical
	case score >= t.HighThreshold:
		return models.RiskHigh
	case score >= t.MediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (t Thresholds) recommendationFor(score int, flags []models.Flag) string {
	for _, f := range flags {
		if f.Severity == models.SeverityCritical {
			return models.RecommendReject
		}
	}
	switch {
	case score >= t.HighThreshold:
		return models.RecommendReject
	case score >= t.MediumThreshold:
		return models.RecommendReview
	default:
		return models.RecommendApprove
	}
}

// ScoreBatch scores each request sequentially within one tenant call,
// matching the teacher's IngestBatch sequential-loop shape (DESIGN.md
// Open Question 4): per-item idempotency holds regardless of
// concurrency, and sequential execution keeps velocity-bump ordering
// deterministic within a batch.
func (o *Orchestrator) ScoreBatch(ctx context.Context, tenant *models.Tenant, reqs []ScoreRequest) ([]*models.Transaction, []error) {
	results := make([]*models.Transaction, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		tx, err := o.Score(ctx, tenant, req)
		if err != nil {
			errs[i] = fmt.Errorf("transaction %s: %w", req.TransactionID, err)
			continue
		}
		results[i] = tx
	}
	return results, errs
}
