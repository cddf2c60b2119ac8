// Package evaluation resolves release decisions in two stages: ask the
// remote evaluator, validate its shape, and on any failure substitute the
// deterministic rule engine. The outcome is always tagged with the path
// that produced it so the caller can label rule-based results.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/decision"
	"github.com/control-tower/backend/internal/generator"
	"github.com/control-tower/backend/internal/llm"
	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Outcome pairs a decision with the path that produced it.
type Outcome struct {
	Source   Source
	Decision decision.Result
}

// RemoteEvaluator is the external completion API surface the resolver
// depends on.
type RemoteEvaluator interface {
	EvaluateRelease(ctx context.Context, req llm.EvaluationRequest) (*decision.Result, error)
}

type Resolver struct {
	remote RemoteEvaluator
	db     *sqlite.Client
}

func NewResolver(remote RemoteEvaluator, db *sqlite.Client) *Resolver {
	return &Resolver{
		remote: remote,
		db:     db,
	}
}

// Evaluate attempts the remote decision and falls back to the rule engine
// on any transport, parse, or validation failure. The fallback path cannot
// fail.
func (r *Resolver) Evaluate(ctx context.Context, req llm.EvaluationRequest) Outcome {
	if r.remote != nil {
		result, err := r.remote.EvaluateRelease(ctx, req)
		if err == nil {
			metrics.EvaluationTotal.WithLabelValues(string(SourceRemote)).Inc()
			return Outcome{Source: SourceRemote, Decision: *result}
		}

		logger.Warn("Remote evaluation unavailable, using rule engine",
			zap.String("person", req.PersonName),
			zap.Error(err),
		)
	}

	metrics.EvaluationTotal.WithLabelValues(string(SourceFallback)).Inc()
	return Outcome{
		Source:   SourceFallback,
		Decision: decision.Decide(req.Evidence, req.PersonName),
	}
}

// BuildRequest assembles the full evaluation payload for a person: evidence
// rows against role targets, coaching history, recent signal context, and
// the current risk score.
func (r *Resolver) BuildRequest(person *models.Person, policyExcerpt string) (llm.EvaluationRequest, error) {
	evidence, err := r.EvidenceForPerson(person)
	if err != nil {
		return llm.EvaluationRequest{}, err
	}

	risk, _, err := r.db.CurrentRiskScore(person.ID)
	if err != nil {
		return llm.EvaluationRequest{}, err
	}

	plans, err := r.db.ListCoachingPlans(person.ID)
	if err != nil {
		return llm.EvaluationRequest{}, err
	}
	history := make([]string, 0, len(plans))
	for _, p := range plans {
		history = append(history, fmt.Sprintf("[%s] %s", p.Status, p.Objective))
	}

	recent, err := r.db.ListPersonSignals(person.ID, 10)
	if err != nil {
		return llm.EvaluationRequest{}, err
	}
	signalContext := make([]string, 0, len(recent))
	for _, s := range recent {
		signalContext = append(signalContext, fmt.Sprintf("[%s] %s", s.Level, s.Reason))
	}

	return llm.EvaluationRequest{
		PersonName:      person.Name,
		Role:            person.Role,
		Department:      person.Department,
		RiskScore:       risk,
		Evidence:        evidence,
		CoachingHistory: history,
		SignalContext:   signalContext,
		PolicyExcerpt:   policyExcerpt,
	}, nil
}

// EvidenceForPerson derives the evidence table from the trailing two weeks
// of observations, benchmarked against the person's role targets. KPIs with
// no observations in the window contribute nothing.
func (r *Resolver) EvidenceForPerson(person *models.Person) ([]decision.EvidenceRow, error) {
	since := time.Now().AddDate(0, 0, -14)
	means, err := r.db.KPIMeans(person.ID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to build evidence: %w", err)
	}

	targets := generator.TargetsForRole(person.Role)
	evidence := make([]decision.EvidenceRow, 0, len(targets))
	for _, t := range targets {
		mean, ok := means[t.KPI]
		if !ok {
			continue
		}
		evidence = append(evidence, decision.EvidenceRow{
			KPI:       t.KPI,
			Value:     mean,
			Benchmark: t.Target,
			Window:    "last 14 days",
			Source:    generator.SourceTag(t.KPI),
		})
	}

	return evidence, nil
}

// OpenCase persists a release case for an accepted decision. Evidence is
// frozen as a JSON snapshot and the risk score is captured at creation time.
func (r *Resolver) OpenCase(personID, reason, verdict string, evidence []decision.EvidenceRow, riskScore float64) (*models.ReleaseCase, error) {
	snapshot, err := json.Marshal(evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to freeze evidence snapshot: %w", err)
	}

	now := time.Now()
	rc := &models.ReleaseCase{
		ID:        uuid.NewString(),
		PersonID:  personID,
		Reason:    reason,
		Evidence:  string(snapshot),
		RiskScore: riskScore,
		Decision:  verdict,
		Status:    models.CaseOpen,
		OpenedAt:  now,
		UpdatedAt: now,
	}

	if err := r.db.CreateReleaseCase(rc); err != nil {
		return nil, err
	}

	return rc, nil
}
