package generator

import (
	"sort"
	"strings"

	"github.com/control-tower/backend/internal/storage/models"
)

// RoleTarget defines one KPI expectation for a role. Target is the expected
// per-observation value the synthesized data and the ratio classification
// are both measured against.
type RoleTarget struct {
	KPI    string
	Unit   string
	Target float64
}

// Static role -> KPI -> target table. KPI names are load-bearing: the
// decision engine and the source tagging match on the "pr"/"bug"/"lead"
// substrings.
var roleTargets = map[string][]RoleTarget{
	"engineer": {
		{KPI: "prs_merged", Unit: "count", Target: 4},
		{KPI: "bug_reopen_rate", Unit: "percent", Target: 10},
		{KPI: "lead_time_days", Unit: "days", Target: 3},
	},
	"senior_engineer": {
		{KPI: "prs_merged", Unit: "count", Target: 5},
		{KPI: "bug_reopen_rate", Unit: "percent", Target: 8},
		{KPI: "lead_time_days", Unit: "days", Target: 2.5},
		{KPI: "design_reviews", Unit: "count", Target: 2},
	},
	"manager": {
		{KPI: "team_lead_time_days", Unit: "days", Target: 4},
		{KPI: "open_bug_backlog", Unit: "count", Target: 12},
		{KPI: "one_on_ones_held", Unit: "count", Target: 5},
	},
}

// TargetsForRole returns the KPI expectations for a role. Roles without an
// entry inherit the engineer defaults so newly provisioned roles still
// produce observations.
func TargetsForRole(role string) []RoleTarget {
	if targets, ok := roleTargets[strings.ToLower(strings.TrimSpace(role))]; ok {
		return targets
	}
	return roleTargets["engineer"]
}

// KPIDefinitions flattens the target table into the static KPI definition
// rows seeded at startup. Bug and lead-time KPIs improve downward.
func KPIDefinitions() []models.KPI {
	seen := make(map[string]bool)
	var defs []models.KPI

	for _, targets := range roleTargets {
		for _, t := range targets {
			if seen[t.KPI] {
				continue
			}
			seen[t.KPI] = true

			direction := "up"
			name := strings.ToLower(t.KPI)
			if strings.Contains(name, "bug") || strings.Contains(name, "lead") {
				direction = "down"
			}

			defs = append(defs, models.KPI{
				ID:        "kpi_" + t.KPI,
				Name:      t.KPI,
				Unit:      t.Unit,
				Direction: direction,
			})
		}
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// SourceTag labels an observation with the system it notionally came from:
// PR-ish KPIs read from github, bug-ish from jira, everything else from ci.
func SourceTag(kpiName string) string {
	name := strings.ToLower(kpiName)
	switch {
	case strings.Contains(name, "pr"):
		return "github"
	case strings.Contains(name, "bug"):
		return "jira"
	default:
		return "ci"
	}
}
