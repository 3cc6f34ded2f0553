package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

func baseTx() *models.Transaction {
	return &models.Transaction{
		TransactionID:   "tx-1",
		TransactionType: models.TxPurchase,
		Amount:          decimal.NewFromInt(1000),
	}
}

func TestHighVelocityDeviceTriggersOverThreshold(t *testing.T) {
	r := highVelocityDevice{}
	tx := baseTx()
	ctx := &Context{Velocity: map[string]models.VelocityReading{
		models.IdentifierDevice: {Count1h: 11},
	}}
	triggered, _ := r.Check(tx, ctx)
	if !triggered {
		t.Error("expected HighVelocityDevice to trigger at device 1h-count of 11")
	}

	ctx.Velocity[models.IdentifierDevice] = models.VelocityReading{Count1h: 10}
	triggered, _ = r.Check(tx, ctx)
	if triggered {
		t.Error("HighVelocityDevice should not trigger at exactly the threshold of 10")
	}
}

func TestUnusualAmountBothBranches(t *testing.T) {
	r := unusualAmount{}
	ctx := &Context{}

	big := baseTx()
	big.Amount = decimal.NewFromInt(2_000_000)
	if triggered, _ := r.Check(big, ctx); !triggered {
		t.Error("expected UnusualAmount to trigger for amount over 1,000,000")
	}

	tinyLoan := baseTx()
	tinyLoan.TransactionType = models.TxLoanApplication
	tinyLoan.Amount = decimal.NewFromInt(50)
	if triggered, _ := r.Check(tinyLoan, ctx); !triggered {
		t.Error("expected UnusualAmount to trigger for a suspiciously small loan application")
	}

	normal := baseTx()
	if triggered, _ := r.Check(normal, ctx); triggered {
		t.Error("UnusualAmount should not trigger for an ordinary purchase amount")
	}
}

func TestLoanStackingOnlyAppliesToLoanApplications(t *testing.T) {
	r := loanStacking{}
	purchase := baseTx()
	if r.AppliesTo(purchase) {
		t.Error("LoanStacking should not apply to a purchase transaction")
	}

	loan := baseTx()
	loan.TransactionType = models.TxLoanApplication
	if !r.AppliesTo(loan) {
		t.Error("LoanStacking should apply to a loan application")
	}

	ctx := &Context{Velocity: map[string]models.VelocityReading{
		models.IdentifierPhone: {Count24h: 3},
	}}
	if triggered, _ := r.Check(loan, ctx); !triggered {
		t.Error("expected LoanStacking to trigger at phone 24h-count of 3")
	}
}

func TestImpossibleTravelRequiresBothLocations(t *testing.T) {
	r := impossibleTravel{}
	tx := baseTx()
	tx.Location = &models.Location{Lat: 6.5244, Lon: 3.3792} // Lagos

	ctx := &Context{Now: time.Now()}
	if triggered, _ := r.Check(tx, ctx); triggered {
		t.Error("ImpossibleTravel should not trigger without a prior location observation")
	}

	ctx.LastLocation = &LocationObservation{Lat: 51.5074, Lon: -0.1278, At: ctx.Now.Add(-1 * time.Hour)} // London, 1h ago
	triggered, _ := r.Check(tx, ctx)
	if !triggered {
		t.Error("expected ImpossibleTravel to trigger: London to Lagos in 1 hour is far faster than any flight")
	}
}

func TestImpossibleTravelAllowsPlausibleSpeed(t *testing.T) {
	r := impossibleTravel{}
	tx := baseTx()
	tx.Location = &models.Location{Lat: 6.5244, Lon: 3.3792}

	now := time.Now()
	ctx := &Context{
		Now:          now,
		LastLocation: &LocationObservation{Lat: 6.45, Lon: 3.40, At: now.Add(-10 * time.Minute)},
	}
	if triggered, _ := r.Check(tx, ctx); triggered {
		t.Error("a few kilometers in 10 minutes should not trigger ImpossibleTravel")
	}
}

func TestEngineEvaluateClipsScoreAt100AndRecoversPanics(t *testing.T) {
	engine := &Engine{catalogue: []Rule{panickyRule{}, alwaysTriggerRule{score: 200}}}
	tx := baseTx()
	ctx := &Context{Weights: map[int]float64{}}

	result := engine.Evaluate(tx, ctx)
	if result.RuleScore != 100 {
		t.Errorf("RuleScore = %d, want clipped to 100", result.RuleScore)
	}
	if len(result.Flags) != 1 {
		t.Errorf("expected only the non-panicking rule to contribute a flag, got %d", len(result.Flags))
	}
}

func TestEngineSelectRulesRespectsTenantAllowList(t *testing.T) {
	engine := &Engine{catalogue: []Rule{alwaysTriggerRule{id: 1, score: 10}, alwaysTriggerRule{id: 2, score: 10}}}
	tx := baseTx()
	ctx := &Context{EnabledRuleIDs: []int{2}}

	result := engine.Evaluate(tx, ctx)
	if len(result.Flags) != 1 || result.Flags[0].RuleID != 2 {
		t.Errorf("expected only rule 2 to run under an allow-list of [2], got %+v", result.Flags)
	}
}

// panickyRule exercises Engine.safeCheck's panic recovery.
type panickyRule struct{}

func (panickyRule) ID() int                                    { return 99 }
func (panickyRule) Name() string                               { return "Panicky" }
func (panickyRule) Severity() string                           { return models.SeverityLow }
func (panickyRule) BaseScore() float64                         { return 5 }
func (panickyRule) AppliesTo(tx *models.Transaction) bool       { return true }
func (panickyRule) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	panic("boom")
}

// alwaysTriggerRule is a configurable always-on rule for engine-level tests.
type alwaysTriggerRule struct {
	id    int
	score float64
}

func (r alwaysTriggerRule) ID() int                              { return r.id }
func (alwaysTriggerRule) Name() string                           { return "AlwaysTrigger" }
func (alwaysTriggerRule) Severity() string                       { return models.SeverityHigh }
func (r alwaysTriggerRule) BaseScore() float64                   { return r.score }
func (alwaysTriggerRule) AppliesTo(tx *models.Transaction) bool  { return true }
func (alwaysTriggerRule) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	return true, "always triggers"
}
