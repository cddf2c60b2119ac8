package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/control-tower/backend/internal/decision"
	"github.com/control-tower/backend/internal/generator"
	"github.com/control-tower/backend/internal/llm"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
)

type stubEvaluator struct {
	result *decision.Result
	err    error
	calls  int
}

func (s *stubEvaluator) EvaluateRelease(_ context.Context, _ llm.EvaluationRequest) (*decision.Result, error) {
	s.calls++
	return s.result, s.err
}

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitSchema())
	require.NoError(t, db.SeedKPIs(generator.KPIDefinitions()))
	return db
}

func newTestPerson(t *testing.T, db *sqlite.Client) *models.Person {
	t.Helper()

	p := &models.Person{
		ID:         uuid.NewString(),
		Name:       "Jordan Reyes",
		Email:      uuid.NewString() + "@example.com",
		Role:       "engineer",
		Department: "platform",
		Status:     models.PersonActive,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, db.InsertPerson(p))
	return p
}

func TestEvaluateUsesRemoteWhenAvailable(t *testing.T) {
	remote := &stubEvaluator{
		result: &decision.Result{
			Decision:      decision.DecisionExtendCoaching,
			Rationale:     []string{"coaching not yet exhausted"},
			Communication: "We will continue the current plan.",
			Checklist:     []string{"Schedule follow-up review"},
		},
	}
	r := NewResolver(remote, nil)

	outcome := r.Evaluate(context.Background(), llm.EvaluationRequest{PersonName: "Jordan Reyes"})

	assert.Equal(t, SourceRemote, outcome.Source)
	assert.Equal(t, decision.DecisionExtendCoaching, outcome.Decision.Decision)
	assert.Equal(t, 1, remote.calls)
}

func TestEvaluateFallsBackOnRemoteError(t *testing.T) {
	remote := &stubEvaluator{err: errors.New("circuit breaker is open")}
	r := NewResolver(remote, nil)

	req := llm.EvaluationRequest{
		PersonName: "Jordan Reyes",
		Evidence: []decision.EvidenceRow{
			{KPI: "prs_merged", Value: 0.5, Benchmark: 4, Window: "last 14 days", Source: "github"},
			{KPI: "bug_reopen_rate", Value: 25, Benchmark: 10, Window: "last 14 days", Source: "jira"},
		},
	}

	outcome := r.Evaluate(context.Background(), req)

	assert.Equal(t, SourceFallback, outcome.Source)
	assert.Equal(t, 1, remote.calls)
	// Fallback output is the deterministic rule engine verdict.
	assert.Equal(t, decision.Decide(req.Evidence, req.PersonName), outcome.Decision)
}

func TestEvaluateFallsBackWhenNoRemoteConfigured(t *testing.T) {
	r := NewResolver(nil, nil)

	outcome := r.Evaluate(context.Background(), llm.EvaluationRequest{PersonName: "Jordan Reyes"})

	assert.Equal(t, SourceFallback, outcome.Source)
	assert.Equal(t, decision.DecisionExtendCoaching, outcome.Decision.Decision)
}

func TestEvidenceForPersonBenchmarksAgainstRoleTargets(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)
	r := NewResolver(nil, db)

	now := time.Now()
	require.NoError(t, db.InsertPerformanceEvents([]models.PerformanceEvent{
		{ID: uuid.NewString(), PersonID: person.ID, KPIName: "prs_merged", Value: 1, Source: "github", CreatedAt: now.AddDate(0, 0, -2)},
		{ID: uuid.NewString(), PersonID: person.ID, KPIName: "prs_merged", Value: 3, Source: "github", CreatedAt: now.AddDate(0, 0, -4)},
		// Outside the 14-day window: must not move the mean.
		{ID: uuid.NewString(), PersonID: person.ID, KPIName: "prs_merged", Value: 100, Source: "github", CreatedAt: now.AddDate(0, 0, -20)},
	}))

	evidence, err := r.EvidenceForPerson(person)
	require.NoError(t, err)
	require.Len(t, evidence, 1)

	row := evidence[0]
	assert.Equal(t, "prs_merged", row.KPI)
	assert.InDelta(t, 2.0, row.Value, 1e-9)
	assert.Equal(t, 4.0, row.Benchmark)
	assert.Equal(t, "last 14 days", row.Window)
	assert.Equal(t, "github", row.Source)
}

func TestEvidenceForPersonEmptyWithoutObservations(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)
	r := NewResolver(nil, db)

	evidence, err := r.EvidenceForPerson(person)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestBuildRequestIncludesHistoryAndSignalContext(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)
	r := NewResolver(nil, db)

	now := time.Now()
	require.NoError(t, db.CreateCoachingPlan(&models.CoachingPlan{
		ID:        uuid.NewString(),
		PersonID:  person.ID,
		Objective: "Improve review turnaround",
		Status:    models.PlanActive,
		CreatedAt: now,
	}))

	delta := 1.5
	require.NoError(t, db.InsertSignal(&models.Signal{
		ID:         uuid.NewString(),
		PersonID:   person.ID,
		Level:      "risk",
		Reason:     "prs_merged 7-day mean 2.00 vs target 4.00",
		ScoreDelta: &delta,
		CreatedAt:  now.Add(-time.Hour),
	}))
	require.NoError(t, db.InsertRiskScore(&models.RiskScore{
		ID:           uuid.NewString(),
		PersonID:     person.ID,
		Score:        4.2,
		CalculatedAt: now,
	}))

	req, err := r.BuildRequest(person, "policy section 3.1")
	require.NoError(t, err)

	assert.Equal(t, person.Name, req.PersonName)
	assert.Equal(t, "engineer", req.Role)
	assert.Equal(t, 4.2, req.RiskScore)
	assert.Equal(t, "policy section 3.1", req.PolicyExcerpt)
	require.Len(t, req.CoachingHistory, 1)
	assert.Contains(t, req.CoachingHistory[0], "Improve review turnaround")
	assert.Contains(t, req.CoachingHistory[0], models.PlanActive)
	require.Len(t, req.SignalContext, 1)
	assert.Contains(t, req.SignalContext[0], "[risk]")
}

func TestOpenCaseFreezesEvidenceSnapshot(t *testing.T) {
	db := newTestDB(t)
	person := newTestPerson(t, db)
	r := NewResolver(nil, db)

	evidence := []decision.EvidenceRow{
		{KPI: "prs_merged", Value: 0.5, Benchmark: 4, Window: "last 14 days", Source: "github"},
	}

	rc, err := r.OpenCase(person.ID, "sustained underperformance", decision.DecisionRelease, evidence, 8.1)
	require.NoError(t, err)
	assert.Equal(t, models.CaseOpen, rc.Status)
	assert.Equal(t, 8.1, rc.RiskScore)

	stored, err := db.GetReleaseCase(rc.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.DecisionRelease, stored.Decision)

	var frozen []decision.EvidenceRow
	require.NoError(t, json.Unmarshal([]byte(stored.Evidence), &frozen))
	assert.Equal(t, evidence, frozen)
}
