package mlscorer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

func TestDisabledScorerAlwaysReturnsZero(t *testing.T) {
	s := NewLinearEnsemble(false)
	tx := &models.Transaction{TransactionType: models.TxPurchase, Amount: decimal.NewFromInt(1000), CreatedAt: time.Now()}

	p, err := s.Predict(context.Background(), tx, Context{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != 0 {
		t.Errorf("disabled scorer returned %f, want 0", p)
	}
}

func TestEnabledScorerReturnsProbabilityInRange(t *testing.T) {
	s := NewLinearEnsemble(true)
	tx := &models.Transaction{
		TransactionType: models.TxLoanApplication,
		Amount:          decimal.NewFromInt(500_000),
		CreatedAt:       time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC),
	}
	fctx := Context{
		VelocityDevice: models.VelocityReading{Count1h: 20},
		VelocityPhone:  models.VelocityReading{Count1h: 8},
	}

	p, err := s.Predict(context.Background(), tx, fctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p <= 0 || p >= 1 {
		t.Errorf("Predict returned %f, want strictly within (0,1)", p)
	}
}

func TestFeatureWeightShapeMismatchFailsClosed(t *testing.T) {
	s := NewLinearEnsemble(true)
	s.weights = s.weights[:len(s.weights)-1] // force a mismatch

	tx := &models.Transaction{TransactionType: models.TxPurchase, Amount: decimal.NewFromInt(1000), CreatedAt: time.Now()}
	p, err := s.Predict(context.Background(), tx, Context{})
	if err != nil {
		t.Fatalf("shape mismatch should fail closed, not return an error: %v", err)
	}
	if p != 0 {
		t.Errorf("shape mismatch returned %f, want 0", p)
	}
}

func TestExtractFeatureVectorMatchesWeightLength(t *testing.T) {
	tx := &models.Transaction{TransactionType: models.TxCryptoDeposit, Amount: decimal.NewFromInt(1), CreatedAt: time.Now()}
	features := Extract(tx, Context{})
	if len(features.vector) != len(featureNames) {
		t.Errorf("extracted %d features, want %d (len(featureNames))", len(features.vector), len(featureNames))
	}
	if len(defaultWeights()) != len(featureNames) {
		t.Errorf("default weight vector has %d entries, want %d", len(defaultWeights()), len(featureNames))
	}
}

func TestHigherRiskSignalsIncreaseScore(t *testing.T) {
	s := NewLinearEnsemble(true)
	low := &models.Transaction{TransactionType: models.TxPurchase, Amount: decimal.NewFromInt(100), CreatedAt: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)}
	high := &models.Transaction{TransactionType: models.TxPurchase, Amount: decimal.NewFromInt(100), CreatedAt: time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)}

	lowP, _ := s.Predict(context.Background(), low, Context{})
	highP, _ := s.Predict(context.Background(), high, Context{
		VelocityDevice: models.VelocityReading{Count1h: 50},
		DeviceHistory:  models.DeviceHistory{Count: 5, FraudCount: 5},
	})

	if highP <= lowP {
		t.Errorf("a device with heavy velocity and a fraud history should score higher: low=%f high=%f", lowP, highP)
	}
}
