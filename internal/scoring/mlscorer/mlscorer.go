// Package mlscorer implements C5: deterministic feature extraction plus
// a lightweight linear-ensemble model producing a fraud probability in
// [0,1]. Grounded on the teacher's ml_scorer.go sigmoid-ensemble shape
// (MLScorerInterface, sigmoid transform) merged with the fixed-order,
// versioned feature vector and fail-closed-on-mismatch contract from
// mdeadwiler's ml-predictor.go (spec §4.3).
package mlscorer

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/internal/models"
)

// featureNames is the fixed, versioned order every feature vector and
// weight vector must agree on (spec §4.3). Changing this requires
// bumping ModelVersion.
var featureNames = append([]string{
	"amount", "log_amount",
	"velocity_device_1m", "velocity_device_10m", "velocity_device_1h", "velocity_device_24h",
	"velocity_phone_1m", "velocity_phone_10m", "velocity_phone_1h", "velocity_phone_24h",
	"device_history_count", "device_history_fraud_count", "device_history_mean_amount",
	"hour_of_day", "day_of_week", "is_late_night",
}, txTypeOneHotNames()...)

func txTypeOneHotNames() []string {
	return []string{
		"tt_" + models.TxLoanApplication,
		"tt_" + models.TxLoanDisbursement,
		"tt_" + models.TxLoanRepayment,
		"tt_" + models.TxTransfer,
		"tt_" + models.TxWithdrawal,
		"tt_" + models.TxDeposit,
		"tt_" + models.TxPurchase,
		"tt_" + models.TxCardTransaction,
		"tt_" + models.TxBetPlacement,
		"tt_" + models.TxBetWithdrawal,
		"tt_" + models.TxCryptoDeposit,
		"tt_" + models.TxCryptoWithdrawal,
		"tt_" + models.TxMarketplaceListing,
		"tt_" + models.TxMarketplacePurchase,
	}
}

const modelVersion = "v1-linear-ensemble"

// Features is the extracted, fixed-order input to the model.
type Features struct {
	vector []float64
}

// Context is everything the extractor needs besides the transaction.
type Context struct {
	VelocityDevice models.VelocityReading
	VelocityPhone  models.VelocityReading
	DeviceHistory  models.DeviceHistory
}

// Extract builds the feature vector deterministically from tx and ctx,
// in the exact order of featureNames.
func Extract(tx *models.Transaction, ctx Context) Features {
	amount, _ := tx.Amount.Float64()
	v := make([]float64, 0, len(featureNames))

	v = append(v,
		amount,
		math.Log1p(math.Abs(amount)),
		float64(ctx.VelocityDevice.Count1m), float64(ctx.VelocityDevice.Count10m),
		float64(ctx.VelocityDevice.Count1h), float64(ctx.VelocityDevice.Count24h),
		float64(ctx.VelocityPhone.Count1m), float64(ctx.VelocityPhone.Count10m),
		float64(ctx.VelocityPhone.Count1h), float64(ctx.VelocityPhone.Count24h),
		float64(ctx.DeviceHistory.Count), float64(ctx.DeviceHistory.FraudCount),
		meanAmountFloat(ctx.DeviceHistory),
		float64(tx.CreatedAt.Hour()), float64(int(tx.CreatedAt.Weekday())),
		boolToFloat(isLateNight(tx.CreatedAt)),
	)

	for _, name := range txTypeOneHotNames() {
		v = append(v, boolToFloat(name == "tt_"+tx.TransactionType))
	}

	return Features{vector: v}
}

func meanAmountFloat(h models.DeviceHistory) float64 {
	f, _ := h.MeanAmount.Float64()
	return f
}

func isLateNight(t interface{ Hour() int }) bool {
	h := t.Hour()
	return h >= 2 && h <= 5
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Scorer is the pluggable prediction interface (teacher's
// MLScorerInterface, narrowed to the spec's single predict contract).
type Scorer interface {
	Predict(ctx context.Context, tx *models.Transaction, fctx Context) (float64, error)
}

// LinearEnsemble is a weighted-sum-plus-sigmoid model: a stand-in for a
// loaded model artifact, same role as the teacher's "lightweight ML"
// ensemble and mdeadwiler's Predictor.calculateScore.
type LinearEnsemble struct {
	enabled bool
	weights []float64
}

// NewLinearEnsemble builds a scorer with the default weight vector.
// enabled mirrors Tenant.MLEnabled; a disabled scorer always returns 0.
func NewLinearEnsemble(enabled bool) *LinearEnsemble {
	return &LinearEnsemble{enabled: enabled, weights: defaultWeights()}
}

// Predict returns p in [0,1]. Per spec §4.3: a feature/weight length
// mismatch fails closed (0, logged), never a wrong-shape prediction. A
// disabled model returns 0 without error.
func (s *LinearEnsemble) Predict(ctx context.Context, tx *models.Transaction, fctx Context) (float64, error) {
	if !s.enabled {
		return 0, nil
	}

	features := Extract(tx, fctx)
	if len(features.vector) != len(s.weights) {
		log.Error().
			Int("feature_count", len(features.vector)).
			Int("weight_count", len(s.weights)).
			Str("model_version", modelVersion).
			Msg("ml scorer feature/weight shape mismatch, failing closed")
		return 0, nil
	}

	sum := 0.0
	for i, v := range features.vector {
		sum += v * s.weights[i]
	}
	return sigmoid(sum), nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// defaultWeights simulates a trained model: small positive weight on
// amount and velocity, larger weight on device-history fraud evidence.
// Order must track featureNames exactly.
func defaultWeights() []float64 {
	w := []float64{
		0.0000005, // amount
		0.08,      // log_amount
		0.05, 0.15, 0.10, 0.03, // velocity_device 1m/10m/1h/24h
		0.04, 0.12, 0.08, 0.02, // velocity_phone 1m/10m/1h/24h
		-0.05, // device_history_count (more history, slightly less risk)
		0.6,   // device_history_fraud_count
		0.0000001,
		0.01,  // hour_of_day
		0.0,   // day_of_week
		0.25,  // is_late_night
	}
	// one weight per transaction type, neutral by default
	for range txTypeOneHotNames() {
		w = append(w, 0.0)
	}
	// the loan/crypto/bet verticals carry slightly elevated baseline risk
	w[len(w)-len(txTypeOneHotNames())+indexOf("tt_"+models.TxLoanApplication)] = 0.1
	w[len(w)-len(txTypeOneHotNames())+indexOf("tt_"+models.TxCryptoWithdrawal)] = 0.15
	w[len(w)-len(txTypeOneHotNames())+indexOf("tt_"+models.TxBetPlacement)] = 0.05
	return w
}

func indexOf(name string) int {
	for i, n := range txTypeOneHotNames() {
		if n == name {
			return i
		}
	}
	return -1
}
