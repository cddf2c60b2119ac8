package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/control-tower/backend/internal/decision"
)

const validEvaluation = `{
	"decision": "extend_coaching",
	"rationale": ["prs_merged is at 1.0 against a 4.0 benchmark"],
	"communication": "Hi Jordan, we will continue your current coaching plan.",
	"checklist": ["Update the plan", "Schedule follow-up", "Notify people partner", "Record the outcome"]
}`

func TestParseEvaluationAcceptsValidPayload(t *testing.T) {
	result, err := parseEvaluation(validEvaluation)
	require.NoError(t, err)
	assert.Equal(t, decision.DecisionExtendCoaching, result.Decision)
	assert.Len(t, result.Checklist, 4)
}

func TestParseEvaluationStripsMarkdownFences(t *testing.T) {
	result, err := parseEvaluation("```json\n" + validEvaluation + "\n```")
	require.NoError(t, err)
	assert.Equal(t, decision.DecisionExtendCoaching, result.Decision)
}

func TestParseEvaluationRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I recommend release because..."},
		{"unknown decision", `{"decision":"promote","rationale":["r"],"communication":"c","checklist":["i"]}`},
		{"missing rationale", `{"decision":"release","rationale":[],"communication":"c","checklist":["i"]}`},
		{"blank communication", `{"decision":"release","rationale":["r"],"communication":"  ","checklist":["i"]}`},
		{"empty checklist", `{"decision":"release","rationale":["r"],"communication":"c","checklist":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEvaluation(tt.content)
			assert.Error(t, err)
		})
	}
}

func TestBuildEvaluationPromptIncludesAllContext(t *testing.T) {
	prompt := buildEvaluationPrompt(EvaluationRequest{
		PersonName: "Jordan Reyes",
		Role:       "engineer",
		Department: "platform",
		RiskScore:  6.3,
		Evidence: []decision.EvidenceRow{
			{KPI: "prs_merged", Value: 1, Benchmark: 4, Window: "last 14 days", Source: "github"},
		},
		CoachingHistory: []string{"[completed] Improve review turnaround"},
		SignalContext:   []string{"[risk] prs_merged 7-day mean 2.00 vs target 4.00"},
		PolicyExcerpt:   "Coaching must precede any release decision.",
	})

	assert.Contains(t, prompt, "Jordan Reyes (engineer, platform)")
	assert.Contains(t, prompt, "risk score: 6.3")
	assert.Contains(t, prompt, "prs_merged | 1.00 | 4.00 | last 14 days | github")
	assert.Contains(t, prompt, "Improve review turnaround")
	assert.Contains(t, prompt, "Coaching must precede any release decision.")
}

func TestBuildEvaluationPromptOmitsEmptySections(t *testing.T) {
	prompt := buildEvaluationPrompt(EvaluationRequest{PersonName: "Jordan Reyes"})

	assert.NotContains(t, prompt, "Coaching history")
	assert.NotContains(t, prompt, "Recent signals")
	assert.NotContains(t, prompt, "Policy excerpt")
}
