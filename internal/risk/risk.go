// Package risk implements deterministic fraud-risk scoring for login sessions.
//
// A session's contextual signals (device, network, location, behavior, SIM)
// are reduced to a weighted trust mean, inverted into a risk score on the
// 0-100 scale, and classified into one of five tiers. The tier drives which
// verification challenges the session must clear. Scoring is a pure function
// of its inputs: identical signal sets always produce identical assessments.
package risk

import (
	"context"
	"time"
)

// Tier is the discrete risk classification, 0 (no risk) through 4 (critical).
type Tier int

const (
	TierNoRisk   Tier = 0
	TierLow      Tier = 1
	TierMedium   Tier = 2
	TierHigh     Tier = 3
	TierCritical Tier = 4
)

// Label returns the human-readable tier name.
func (t Tier) Label() string {
	switch t {
	case TierNoRisk:
		return "No Risk"
	case TierLow:
		return "Low Risk"
	case TierMedium:
		return "Medium Risk"
	case TierHigh:
		return "High Risk"
	case TierCritical:
		return "Critical Risk"
	default:
		return "Unknown"
	}
}

// NoSignalFactor is the rationale recorded when a session arrives with no
// signals at all. Empty input fails closed to the critical tier.
const NoSignalFactor = "no signal data"

// Assessment is the scoring result for one session. Trust is the weighted
// mean of signal confidences; Score is its inversion on the risk scale
// (higher = riskier). Factors lists the descriptions of non-safe signals,
// danger entries before warning entries.
type Assessment struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Trust       float64   `json:"trust"`
	Score       float64   `json:"score"`
	Tier        Tier      `json:"tier"`
	TierLabel   string    `json:"tierLabel"`
	Factors     []string  `json:"factors"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Store persists assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*Assessment, error)
}
