// Package decision implements the deterministic release recommendation used
// whenever the remote evaluation is unavailable or returns a malformed
// payload. It never returns an error: callers always get a usable result.
package decision

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/control-tower/backend/pkg/logger"
)

const (
	DecisionRelease        = "release"
	DecisionExtendCoaching = "extend_coaching"
)

// Thresholds of the release rule. An evidence window covers two weeks, so
// the PR count is doubled to get a weekly rate.
const (
	weeklyPRFloor    = 2.0
	reopenRateCeil   = 15.0
	leadTimeCeilDays = 60.0
	underTargetRatio = 0.8
	windowMultiplier = 2.0
)

// EvidenceRow is one KPI-vs-benchmark comparison. Source is a display link
// label, not a live reference.
type EvidenceRow struct {
	KPI       string  `json:"kpi"`
	Value     float64 `json:"value"`
	Benchmark float64 `json:"benchmark"`
	Window    string  `json:"window"`
	Source    string  `json:"source"`
}

type Result struct {
	Decision      string   `json:"decision"`
	Rationale     []string `json:"rationale"`
	Communication string   `json:"communication"`
	Checklist     []string `json:"checklist"`
}

// Decide evaluates the evidence rows and produces a release or
// extend_coaching recommendation. A panic anywhere inside the rule scan is
// recovered into a conservative extend_coaching result.
func Decide(evidence []EvidenceRow, personName string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Rule engine recovered from panic", zap.Any("panic", r))
			result = conservativeResult(personName)
		}
	}()

	var (
		prsPerWeek, reopenRate, leadTime float64
		prFound, reopenFound, leadFound  bool
	)

	for _, row := range evidence {
		name := strings.ToLower(row.KPI)
		switch {
		case strings.Contains(name, "pr"):
			prsPerWeek = row.Value * windowMultiplier
			prFound = true
		case strings.Contains(name, "bug"):
			// A zero benchmark yields no signal from this row.
			if row.Benchmark > 0 {
				reopenRate = row.Value / row.Benchmark * 100
				reopenFound = true
			}
		case strings.Contains(name, "lead"):
			leadTime = row.Value
			leadFound = true
		}
	}

	verdict := DecisionExtendCoaching
	if prFound && prsPerWeek < weeklyPRFloor &&
		((reopenFound && reopenRate >= reopenRateCeil) || (leadFound && leadTime >= leadTimeCeilDays)) {
		verdict = DecisionRelease
	}

	return Result{
		Decision:      verdict,
		Rationale:     buildRationale(evidence, verdict),
		Communication: buildCommunication(personName, verdict),
		Checklist:     buildChecklist(verdict),
	}
}

func buildRationale(evidence []EvidenceRow, verdict string) []string {
	var rationale []string

	for _, row := range evidence {
		if row.Benchmark <= 0 {
			continue
		}
		ratio := row.Value / row.Benchmark
		if ratio < underTargetRatio {
			rationale = append(rationale, fmt.Sprintf(
				"%s is at %.1f, %.0f%% of the %.1f benchmark (%s)",
				row.KPI, row.Value, ratio*100, row.Benchmark, row.Window,
			))
		}
	}

	if len(rationale) == 0 {
		rationale = append(rationale, "All tracked metrics are within acceptable ranges for this review window.")
	}

	if verdict == DecisionRelease {
		rationale = append(rationale, "Sustained underperformance across delivery and quality metrics supports a release recommendation.")
	} else {
		rationale = append(rationale, "The evidence supports continued coaching rather than separation at this time.")
	}

	return rationale
}

func buildCommunication(personName, verdict string) string {
	if verdict == DecisionRelease {
		return fmt.Sprintf(
			"Hi %s, following a structured review of your recent delivery metrics against team benchmarks, "+
				"we have decided to begin the release process. Your people partner will walk you through next "+
				"steps, timelines, and the support available to you.",
			personName,
		)
	}
	return fmt.Sprintf(
		"Hi %s, following a structured review of your recent delivery metrics against team benchmarks, "+
			"we will continue your current coaching plan with updated objectives. Your people partner will "+
			"walk you through next steps, timelines, and the support available to you.",
		personName,
	)
}

func buildChecklist(verdict string) []string {
	checklist := make([]string, 0, 4)

	if verdict == DecisionRelease {
		checklist = append(checklist,
			"Complete separation documentation and final review summary",
			"Schedule transition and knowledge handover for in-flight work",
		)
	} else {
		checklist = append(checklist,
			"Update the active coaching plan with revised objectives",
			"Schedule a 30-day follow-up review",
		)
	}

	checklist = append(checklist,
		"Share the decision summary with the people partner",
		"Record the outcome and supporting evidence in the case file",
	)

	return checklist
}

func conservativeResult(personName string) Result {
	return Result{
		Decision: DecisionExtendCoaching,
		Rationale: []string{
			"The rule engine could not fully evaluate the evidence; defaulting to continued coaching.",
			"The evidence supports continued coaching rather than separation at this time.",
		},
		Communication: buildCommunication(personName, DecisionExtendCoaching),
		Checklist:     buildChecklist(DecisionExtendCoaching),
	}
}
