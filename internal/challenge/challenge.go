// Package challenge maps risk tiers to ordered verification step plans.
package challenge

import (
	"github.com/bankshield/stepup/internal/risk"
)

// StepKind identifies a verification step type.
type StepKind string

const (
	KindPassiveBiometric    StepKind = "passive_biometric"
	KindGesture             StepKind = "gesture"
	KindLiveness            StepKind = "liveness"
	KindRAG                 StepKind = "rag"
	KindVideoKYC            StepKind = "video_kyc"
	KindHardwareAttestation StepKind = "hardware_attestation"
	KindBlock               StepKind = "block"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case KindPassiveBiometric, KindGesture, KindLiveness, KindRAG,
		KindVideoKYC, KindHardwareAttestation, KindBlock:
		return true
	}
	return false
}

// External reports whether the step is dispatched to a verification
// provider. RAG runs in-process and Block terminates without dispatch.
func (k StepKind) External() bool {
	switch k {
	case KindPassiveBiometric, KindGesture, KindLiveness, KindVideoKYC, KindHardwareAttestation:
		return true
	}
	return false
}

// Step is one entry in a challenge plan. Every step in the default
// plans is required: failing it denies the session.
type Step struct {
	Kind     StepKind `json:"kind"`
	Required bool     `json:"required"`
}

// Plan is the ordered step sequence assigned to a risk tier. Built once
// per assessment and immutable thereafter.
type Plan struct {
	Tier  risk.Tier `json:"tier"`
	Steps []Step    `json:"steps"`
}

// Blocking reports whether the plan short-circuits to a block with no
// executable steps. Only tier 4 plans block.
func (p Plan) Blocking() bool {
	return len(p.Steps) == 1 && p.Steps[0].Kind == KindBlock
}

// BuildPlan returns the fixed plan for a tier. Unknown tiers fall back
// to the blocking plan (fail closed).
func BuildPlan(tier risk.Tier) Plan {
	var kinds []StepKind
	switch tier {
	case risk.TierNoRisk:
		kinds = []StepKind{KindPassiveBiometric}
	case risk.TierLow:
		kinds = []StepKind{KindGesture}
	case risk.TierMedium:
		kinds = []StepKind{KindRAG}
	case risk.TierHigh:
		kinds = []StepKind{KindVideoKYC, KindHardwareAttestation}
	default:
		kinds = []StepKind{KindBlock}
	}

	steps := make([]Step, len(kinds))
	for i, k := range kinds {
		steps[i] = Step{Kind: k, Required: true}
	}
	return Plan{Tier: tier, Steps: steps}
}
