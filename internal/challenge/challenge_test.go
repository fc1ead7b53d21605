package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankshield/stepup/internal/risk"
)

func TestBuildPlan_FixedTable(t *testing.T) {
	tests := []struct {
		tier risk.Tier
		want []StepKind
	}{
		{risk.TierNoRisk, []StepKind{KindPassiveBiometric}},
		{risk.TierLow, []StepKind{KindGesture}},
		{risk.TierMedium, []StepKind{KindRAG}},
		{risk.TierHigh, []StepKind{KindVideoKYC, KindHardwareAttestation}},
		{risk.TierCritical, []StepKind{KindBlock}},
	}

	for _, tt := range tests {
		plan := BuildPlan(tt.tier)
		assert.Equal(t, tt.tier, plan.Tier)
		require.Len(t, plan.Steps, len(tt.want))
		for i, kind := range tt.want {
			assert.Equal(t, kind, plan.Steps[i].Kind)
			assert.True(t, plan.Steps[i].Required, "all default steps are required")
		}
	}
}

func TestBuildPlan_CriticalBlocks(t *testing.T) {
	plan := BuildPlan(risk.TierCritical)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, KindBlock, plan.Steps[0].Kind)
	assert.True(t, plan.Blocking())
}

func TestBuildPlan_UnknownTierFailsClosed(t *testing.T) {
	plan := BuildPlan(risk.Tier(7))
	assert.True(t, plan.Blocking())
}

func TestBuildPlan_NonCriticalNeverBlocks(t *testing.T) {
	for _, tier := range []risk.Tier{risk.TierNoRisk, risk.TierLow, risk.TierMedium, risk.TierHigh} {
		assert.False(t, BuildPlan(tier).Blocking(), "tier %d", tier)
	}
}

func TestStepKind_External(t *testing.T) {
	assert.True(t, KindPassiveBiometric.External())
	assert.True(t, KindGesture.External())
	assert.True(t, KindLiveness.External())
	assert.True(t, KindVideoKYC.External())
	assert.True(t, KindHardwareAttestation.External())

	assert.False(t, KindRAG.External(), "RAG runs in-process")
	assert.False(t, KindBlock.External(), "block never dispatches")
}

func TestStepKind_Valid(t *testing.T) {
	assert.True(t, KindRAG.Valid())
	assert.True(t, KindBlock.Valid())
	assert.False(t, StepKind("captcha").Valid())
}
