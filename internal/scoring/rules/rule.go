// Package rules implements C4: a flat catalogue of named predicates,
// selected per vertical/tenant/type, evaluated into Flags with panic
// isolation per rule. Re-architected per spec §9 from the teacher's two
// competing engines (a closure-based Rule slice and a JSON-condition
// tree) into a single Rule interface + flat list, the "tagged variants
// or interface list" shape the spec calls for.
package rules

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rs/zerolog/log"
	"github.com/sentinel/fraud-engine/internal/models"
)

// LocationObservation is a device's most recently scored location, used
// by ImpossibleTravel to compare successive transactions.
type LocationObservation struct {
	Lat, Lon float64
	At       time.Time
}

// Context carries everything a rule may read besides the transaction
// itself: velocity counters, device history, the prior location
// observation, tenant rule selection, and learned weights.
type Context struct {
	Now            time.Time
	Velocity       map[string]models.VelocityReading // keyed by identifier type (models.IdentifierDevice etc.)
	DeviceHistory  models.DeviceHistory
	LastLocation   *LocationObservation
	EnabledRuleIDs []int // empty => all rules applicable to the vertical
	Weights        map[int]float64
}

func (c *Context) velocityFor(identifierType string) models.VelocityReading {
	key := identifierType
	if v, ok := c.Velocity[key]; ok {
		return v
	}
	return models.VelocityReading{}
}

// Rule is the capability every catalogue entry implements. No
// inheritance: a flat list of values, each self-contained.
type Rule interface {
	ID() int
	Name() string
	Severity() string
	BaseScore() float64
	AppliesTo(tx *models.Transaction) bool
	Check(tx *models.Transaction, ctx *Context) (triggered bool, message string)
}

// Engine evaluates the catalogue against a transaction + context.
type Engine struct {
	catalogue []Rule
}

func NewEngine() *Engine {
	return &Engine{catalogue: DefaultCatalogue()}
}

// Result is the engine's output: triggered flags plus the composite
// rule_score in [0,100] (spec §4.2).
type Result struct {
	Flags     []models.Flag
	RuleScore int
}

// Evaluate runs rule selection then per-rule evaluation. A rule whose
// Check panics is recovered, logged, and treated as not-triggered — one
// misbehaving rule never fails the request (spec §4.2, invariant 4).
func (e *Engine) Evaluate(tx *models.Transaction, ctx *Context) Result {
	selected := e.selectRules(tx, ctx.EnabledRuleIDs)

	var flags []models.Flag
	raw := 0.0
	for _, r := range selected {
		triggered, msg := e.safeCheck(r, tx, ctx)
		if !triggered {
			continue
		}
		weight := ctx.Weights[r.ID()]
		if weight == 0 {
			weight = 1.0
		}
		confidence := 0.8
		flags = append(flags, models.Flag{
			RuleID:       r.ID(),
			RuleName:     r.Name(),
			Severity:     r.Severity(),
			HumanMessage: msg,
			Confidence:   confidence,
		})
		raw += r.BaseScore() * weight * confidence
	}

	score := int(raw)
	if score > 100 {
		score = 100
	}
	return Result{Flags: flags, RuleScore: score}
}

// selectRules is the union of {universal, vertical, tenant-enabled}
// minus {tenant-disabled}: from the union of rules whose AppliesTo
// matches, keep only tenant-enabled ids when the tenant has an
// allow-list (spec §4.2 rule selection).
func (e *Engine) selectRules(tx *models.Transaction, enabledIDs []int) []Rule {
	allowed := make(map[int]bool, len(enabledIDs))
	for _, id := range enabledIDs {
		allowed[id] = true
	}

	var out []Rule
	for _, r := range e.catalogue {
		if !r.AppliesTo(tx) {
			continue
		}
		if len(enabledIDs) > 0 && !allowed[r.ID()] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *Engine) safeCheck(r Rule, tx *models.Transaction, ctx *Context) (triggered bool, message string) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Int("rule_id", r.ID()).
				Str("rule_name", r.Name()).
				Interface("panic", p).
				Msg("rule check panicked, treating as not triggered")
			triggered = false
		}
	}()
	return r.Check(tx, ctx)
}

func isLocalLateNight(t time.Time) bool {
	h := t.Hour()
	return h >= 2 && h <= 5
}

func amountGreaterThan(a decimal.Decimal, v int64) bool {
	return a.GreaterThan(decimal.NewFromInt(v))
}

func amountLessThan(a decimal.Decimal, v int64) bool {
	return a.LessThan(decimal.NewFromInt(v))
}

// haversineKm returns the great-circle distance between two points in
// kilometers, used by ImpossibleTravel to approximate travel speed.
const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
