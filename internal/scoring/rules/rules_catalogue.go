package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sentinel/fraud-engine/internal/models"
)

// DefaultCatalogue returns the spec's minimum 15-rule set (spec §4.2
// table). Each entry is a self-contained value type; there is no shared
// base struct to keep in sync, by design (spec §9's "flat list" note).
func DefaultCatalogue() []Rule {
	return []Rule{
		highVelocityDevice{},
		highVelocityPhone{},
		unusualAmount{},
		lateNight{},
		newDevice{},
		loanStacking{},
		velocitySpike{},
		roundAmount{},
		multipleApplications{},
		deviceHistoryFraud{},
		cardTesting{},
		impossibleTravel{},
		bonusAbuse{},
		cryptoRapidFlow{},
		newSellerHighValue{},
	}
}

// 1. HighVelocityDevice — device 1h-count > 10.
type highVelocityDevice struct{}

func (highVelocityDevice) ID() int            { return 1 }
func (highVelocityDevice) Name() string       { return "HighVelocityDevice" }
func (highVelocityDevice) Severity() string   { return models.SeverityHigh }
func (highVelocityDevice) BaseScore() float64 { return 15 }
func (highVelocityDevice) AppliesTo(tx *models.Transaction) bool { return true }
func (highVelocityDevice) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierDevice)
	if v.Count1h > 10 {
		return true, fmt.Sprintf("device seen %d times in the last hour", v.Count1h)
	}
	return false, ""
}

// 2. HighVelocityPhone — phone 1h-count > 5.
type highVelocityPhone struct{}

func (highVelocityPhone) ID() int            { return 2 }
func (highVelocityPhone) Name() string       { return "HighVelocityPhone" }
func (highVelocityPhone) Severity() string   { return models.SeverityHigh }
func (highVelocityPhone) BaseScore() float64 { return 15 }
func (highVelocityPhone) AppliesTo(tx *models.Transaction) bool { return true }
func (highVelocityPhone) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierPhone)
	if v.Count1h > 5 {
		return true, fmt.Sprintf("phone seen %d times in the last hour", v.Count1h)
	}
	return false, ""
}

// 3. UnusualAmount — amount > 1,000,000 or (loan_application and amount < 100).
type unusualAmount struct{}

func (unusualAmount) ID() int            { return 3 }
func (unusualAmount) Name() string       { return "UnusualAmount" }
func (unusualAmount) Severity() string   { return models.SeverityMedium }
func (unusualAmount) BaseScore() float64 { return 10 }
func (unusualAmount) AppliesTo(tx *models.Transaction) bool { return true }
func (unusualAmount) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if amountGreaterThan(tx.Amount, 1_000_000) {
		return true, "transaction amount exceeds 1,000,000"
	}
	if tx.TransactionType == models.TxLoanApplication && amountLessThan(tx.Amount, 100) {
		return true, "loan application amount is unusually small"
	}
	return false, ""
}

// 4. LateNight — local hour in [2,5].
type lateNight struct{}

func (lateNight) ID() int            { return 4 }
func (lateNight) Name() string       { return "LateNight" }
func (lateNight) Severity() string   { return models.SeverityLow }
func (lateNight) BaseScore() float64 { return 5 }
func (lateNight) AppliesTo(tx *models.Transaction) bool { return true }
func (lateNight) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if isLocalLateNight(ctx.Now) {
		return true, "transaction occurred late at night"
	}
	return false, ""
}

// 5. NewDevice — device history empty and amount > 50,000.
type newDevice struct{}

func (newDevice) ID() int            { return 5 }
func (newDevice) Name() string       { return "NewDevice" }
func (newDevice) Severity() string   { return models.SeverityMedium }
func (newDevice) BaseScore() float64 { return 8 }
func (newDevice) AppliesTo(tx *models.Transaction) bool { return true }
func (newDevice) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if ctx.DeviceHistory.Count == 0 && amountGreaterThan(tx.Amount, 50_000) {
		return true, "first transaction from this device is unusually large"
	}
	return false, ""
}

// 6. LoanStacking — loan_application and phone 24h-count >= 3.
type loanStacking struct{}

func (loanStacking) ID() int            { return 6 }
func (loanStacking) Name() string       { return "LoanStacking" }
func (loanStacking) Severity() string   { return models.SeverityCritical }
func (loanStacking) BaseScore() float64 { return 20 }
func (loanStacking) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxLoanApplication
}
func (loanStacking) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierPhone)
	if v.Count24h >= 3 {
		return true, fmt.Sprintf("%d loan applications from this phone in 24h", v.Count24h)
	}
	return false, ""
}

// 7. VelocitySpike — device 10m-count >= 3.
type velocitySpike struct{}

func (velocitySpike) ID() int            { return 7 }
func (velocitySpike) Name() string       { return "VelocitySpike" }
func (velocitySpike) Severity() string   { return models.SeverityHigh }
func (velocitySpike) BaseScore() float64 { return 12 }
func (velocitySpike) AppliesTo(tx *models.Transaction) bool { return true }
func (velocitySpike) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierDevice)
	if v.Count10m >= 3 {
		return true, fmt.Sprintf("device seen %d times in the last 10 minutes", v.Count10m)
	}
	return false, ""
}

// 8. RoundAmount — amount mod 10,000 = 0 and amount >= 100,000.
type roundAmount struct{}

func (roundAmount) ID() int            { return 8 }
func (roundAmount) Name() string       { return "RoundAmount" }
func (roundAmount) Severity() string   { return models.SeverityLow }
func (roundAmount) BaseScore() float64 { return 5 }
func (roundAmount) AppliesTo(tx *models.Transaction) bool { return true }
func (roundAmount) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if !amountGreaterThan(tx.Amount, 99_999) {
		return false, ""
	}
	if tx.Amount.Mod(decimal.NewFromInt(10_000)).IsZero() {
		return true, "amount is a large round number"
	}
	return false, ""
}

// 9. MultipleApplications — bvn present and phone 1h-count >= 2 and loan_application.
type multipleApplications struct{}

func (multipleApplications) ID() int            { return 9 }
func (multipleApplications) Name() string       { return "MultipleApplications" }
func (multipleApplications) Severity() string   { return models.SeverityCritical }
func (multipleApplications) BaseScore() float64 { return 18 }
func (multipleApplications) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxLoanApplication
}
func (multipleApplications) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if tx.BVNHash == "" {
		return false, ""
	}
	v := ctx.velocityFor(models.IdentifierPhone)
	if v.Count1h >= 2 {
		return true, fmt.Sprintf("%d applications from this phone in the last hour with BVN present", v.Count1h)
	}
	return false, ""
}

// 10. DeviceHistoryFraud — device history fraud ratio > 0.5 with >= 1 txn.
type deviceHistoryFraud struct{}

func (deviceHistoryFraud) ID() int            { return 10 }
func (deviceHistoryFraud) Name() string       { return "DeviceHistoryFraud" }
func (deviceHistoryFraud) Severity() string   { return models.SeverityHigh }
func (deviceHistoryFraud) BaseScore() float64 { return 15 }
func (deviceHistoryFraud) AppliesTo(tx *models.Transaction) bool { return true }
func (deviceHistoryFraud) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if ctx.DeviceHistory.Count >= 1 && ctx.DeviceHistory.FraudRatio() > 0.5 {
		return true, "device has a history of confirmed fraud"
	}
	return false, ""
}

// 11. CardTesting — purchase and device 10m-count >= 5 and amount < 1,000.
type cardTesting struct{}

func (cardTesting) ID() int            { return 11 }
func (cardTesting) Name() string       { return "CardTesting" }
func (cardTesting) Severity() string   { return models.SeverityHigh }
func (cardTesting) BaseScore() float64 { return 15 }
func (cardTesting) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxPurchase
}
func (cardTesting) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierDevice)
	if v.Count10m >= 5 && amountLessThan(tx.Amount, 1000) {
		return true, "small repeated purchases from this device look like card testing"
	}
	return false, ""
}

// 12. ImpossibleTravel — straight-line distance / elapsed time > 900 km/h
// between this transaction and the device's previous observation.
type impossibleTravel struct{}

func (impossibleTravel) ID() int            { return 12 }
func (impossibleTravel) Name() string       { return "ImpossibleTravel" }
func (impossibleTravel) Severity() string   { return models.SeverityCritical }
func (impossibleTravel) BaseScore() float64 { return 50 }
func (impossibleTravel) AppliesTo(tx *models.Transaction) bool { return true }
func (impossibleTravel) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if ctx.LastLocation == nil || tx.Location == nil {
		return false, ""
	}
	elapsedHours := ctx.Now.Sub(ctx.LastLocation.At).Hours()
	if elapsedHours <= 0 {
		return false, ""
	}
	km := haversineKm(ctx.LastLocation.Lat, ctx.LastLocation.Lon, tx.Location.Lat, tx.Location.Lon)
	speed := km / elapsedHours
	if speed > 900 {
		return true, fmt.Sprintf("implied travel speed of %.0f km/h since last transaction", speed)
	}
	return false, ""
}

// 13. BonusAbuse — bet_placement and device history empty.
type bonusAbuse struct{}

func (bonusAbuse) ID() int            { return 13 }
func (bonusAbuse) Name() string       { return "BonusAbuse" }
func (bonusAbuse) Severity() string   { return models.SeverityMedium }
func (bonusAbuse) BaseScore() float64 { return 10 }
func (bonusAbuse) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxBetPlacement
}
func (bonusAbuse) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if ctx.DeviceHistory.Count == 0 {
		return true, "first bet from this device, possible bonus abuse"
	}
	return false, ""
}

// 14. CryptoRapidFlow — crypto_deposit/withdrawal and device 1h-count >= 5.
type cryptoRapidFlow struct{}

func (cryptoRapidFlow) ID() int            { return 14 }
func (cryptoRapidFlow) Name() string       { return "CryptoRapidFlow" }
func (cryptoRapidFlow) Severity() string   { return models.SeverityHigh }
func (cryptoRapidFlow) BaseScore() float64 { return 12 }
func (cryptoRapidFlow) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxCryptoDeposit || tx.TransactionType == models.TxCryptoWithdrawal
}
func (cryptoRapidFlow) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	v := ctx.velocityFor(models.IdentifierDevice)
	if v.Count1h >= 5 {
		return true, fmt.Sprintf("%d crypto transactions from this device in the last hour", v.Count1h)
	}
	return false, ""
}

// 15. NewSellerHighValue — marketplace_listing, device history empty, amount > 100,000.
type newSellerHighValue struct{}

func (newSellerHighValue) ID() int            { return 15 }
func (newSellerHighValue) Name() string       { return "NewSellerHighValue" }
func (newSellerHighValue) Severity() string   { return models.SeverityHigh }
func (newSellerHighValue) BaseScore() float64 { return 15 }
func (newSellerHighValue) AppliesTo(tx *models.Transaction) bool {
	return tx.TransactionType == models.TxMarketplaceListing
}
func (newSellerHighValue) Check(tx *models.Transaction, ctx *Context) (bool, string) {
	if ctx.DeviceHistory.Count == 0 && amountGreaterThan(tx.Amount, 100_000) {
		return true, "new seller listing an unusually high-value item"
	}
	return false, ""
}
