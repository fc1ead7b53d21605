package risk

import (
	"context"
	"math"
	"time"

	"github.com/bankshield/stepup/internal/idgen"
	"github.com/bankshield/stepup/internal/signal"
)

// Tier boundaries on the risk scale, inclusive lower bounds. A score on a
// boundary lands in the stricter (higher) tier.
const (
	lowBound      = 20.0
	mediumBound   = 50.0
	highBound     = 75.0
	criticalBound = 90.0
)

// Engine turns a frozen signal set into a risk assessment.
type Engine struct {
	store Store
}

// NewEngine creates a scoring engine backed by the given audit store.
// A nil store disables the audit trail.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// TrustScore computes the weighted mean of signal confidences:
// Σ(confidence_i * weight_i) / Σ(weight_i). An empty set or zero total
// weight scores 0 so the inverted risk score fails closed at 100.
func TrustScore(set *signal.Set) float64 {
	total := set.TotalWeight()
	if total <= 0 {
		return 0
	}
	var sum float64
	for _, s := range set.Signals() {
		sum += s.Confidence * s.Weight
	}
	return round3(sum / total)
}

// Classify maps a risk score to its tier.
func Classify(score float64) Tier {
	switch {
	case score >= criticalBound:
		return TierCritical
	case score >= highBound:
		return TierHigh
	case score >= mediumBound:
		return TierMedium
	case score >= lowBound:
		return TierLow
	default:
		return TierNoRisk
	}
}

// Factors lists descriptions of signals whose status is warning or danger.
// Danger signals come first, then warnings, insertion order preserved
// within each group.
func Factors(set *signal.Set) []string {
	var danger, warning []string
	for _, s := range set.Signals() {
		switch s.Status {
		case signal.StatusDanger:
			danger = append(danger, s.Description)
		case signal.StatusWarning:
			warning = append(warning, s.Description)
		}
	}
	return append(danger, warning...)
}

// Preview scores a signal set without assigning identifiers or writing
// an audit record. Used for what-if evaluation.
func Preview(set *signal.Set) *Assessment {
	trust := TrustScore(set)
	score := round3(100 - trust)
	tier := Classify(score)

	factors := Factors(set)
	if set.Len() == 0 {
		factors = []string{NoSignalFactor}
	}

	return &Assessment{
		Trust:       trust,
		Score:       score,
		Tier:        tier,
		TierLabel:   tier.Label(),
		Factors:     factors,
		EvaluatedAt: time.Now(),
	}
}

// Evaluate scores a signal set for a session. Deterministic: the same set
// always yields the same trust, score, tier, and factor order. The
// assessment is persisted asynchronously as a best-effort audit record.
func (e *Engine) Evaluate(ctx context.Context, sessionID string, set *signal.Set) *Assessment {
	a := Preview(set)
	a.ID = idgen.WithPrefix("risk_")
	a.SessionID = sessionID

	if e.store != nil {
		go func() {
			_ = e.store.Record(context.Background(), a)
		}()
	}

	return a
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
