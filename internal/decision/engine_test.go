package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(kpi string, value, benchmark float64) EvidenceRow {
	return EvidenceRow{
		KPI:       kpi,
		Value:     value,
		Benchmark: benchmark,
		Window:    "last 14 days",
		Source:    "github",
	}
}

func TestDecideReleaseWhenLowPRsAndHighReopenRate(t *testing.T) {
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),     // 1.0/week after doubling
		row("Bug reopen rate", 20, 100), // 20%
	}

	result := Decide(evidence, "Jordan")

	assert.Equal(t, DecisionRelease, result.Decision)
	assert.Contains(t, result.Communication, "Jordan")
	assert.Contains(t, result.Communication, "release")
	require.Len(t, result.Checklist, 4)
	assert.Contains(t, result.Checklist[0], "separation documentation")
}

func TestDecideStrictPRBoundary(t *testing.T) {
	// prsPerWeek = 1 * 2 = 2; the rule requires strictly less than 2, so
	// even a 20% reopen rate does not trigger release.
	evidence := []EvidenceRow{
		row("PRs/week", 1, 4),
		row("Bug reopen", 20, 100),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionExtendCoaching, result.Decision)
}

func TestDecideReopenRateBoundaryInclusive(t *testing.T) {
	// Exactly 15% satisfies the >= threshold.
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),
		row("Bug reopen rate", 15, 100),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionRelease, result.Decision)
}

func TestDecideLeadTimeBoundaryInclusive(t *testing.T) {
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),
		row("Lead time (days)", 60, 3),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionRelease, result.Decision)
}

func TestDecideLowPRsAloneIsNotRelease(t *testing.T) {
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),
		row("Bug reopen rate", 5, 100),
		row("Lead time (days)", 10, 3),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionExtendCoaching, result.Decision)
	require.Len(t, result.Checklist, 4)
	assert.Contains(t, result.Checklist[0], "coaching plan")
	assert.Contains(t, result.Checklist[1], "30-day")
}

func TestDecideNoPRRowIsNeverRelease(t *testing.T) {
	// Without a PR-shaped row the weekly rate is undefined, so the release
	// gate cannot be satisfied no matter how bad the quality metrics are.
	evidence := []EvidenceRow{
		row("Bug reopen rate", 90, 100), // 90%
		row("Lead time (days)", 200, 3),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionExtendCoaching, result.Decision)
}

func TestDecideRationaleStrictUnderTargetBoundary(t *testing.T) {
	evidence := []EvidenceRow{
		row("deploy_frequency", 8, 10),    // exactly 0.8: no rationale line
		row("review_throughput", 7.9, 10), // 0.79: rationale line
	}

	result := Decide(evidence, "Sam")

	// Everything but the closing sentence is a citation line.
	cited := result.Rationale[:len(result.Rationale)-1]

	require.Len(t, cited, 1)
	assert.Contains(t, cited[0], "review_throughput")
	assert.NotContains(t, cited[0], "deploy_frequency")
}

func TestDecideRationaleWithinAcceptableRanges(t *testing.T) {
	evidence := []EvidenceRow{
		row("deploy_frequency", 10, 10),
	}

	result := Decide(evidence, "Sam")

	require.Len(t, result.Rationale, 2)
	assert.Contains(t, result.Rationale[0], "within acceptable ranges")
}

func TestDecideZeroBenchmarkSkipped(t *testing.T) {
	// A zero benchmark must neither panic nor contribute a reopen-rate
	// signal or a rationale line.
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),
		row("Bug reopen rate", 20, 0),
	}

	result := Decide(evidence, "Sam")

	assert.Equal(t, DecisionExtendCoaching, result.Decision)
	for _, line := range result.Rationale {
		assert.NotContains(t, line, "Bug reopen rate")
	}
}

func TestDecideEmptyEvidence(t *testing.T) {
	result := Decide(nil, "Sam")

	assert.Equal(t, DecisionExtendCoaching, result.Decision)
	require.Len(t, result.Rationale, 2)
	assert.Contains(t, result.Rationale[0], "within acceptable ranges")
	assert.Len(t, result.Checklist, 4)
	assert.NotEmpty(t, result.Communication)
}

func TestDecideDeterministic(t *testing.T) {
	evidence := []EvidenceRow{
		row("PRs merged", 0.5, 4),
		row("Bug reopen rate", 20, 100),
		row("Lead time (days)", 70, 3),
	}

	first := Decide(evidence, "Sam")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Decide(evidence, "Sam"))
	}
}
