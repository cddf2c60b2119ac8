package models

import "time"

// Person statuses. People are provisioned out of band; the core never
// mutates them.
const (
	PersonActive   = "active"
	PersonInactive = "inactive"
)

type Person struct {
	ID         string
	Name       string
	Email      string
	Role       string
	Department string
	Status     string
	CreatedAt  time.Time
}

// Signal is an append-only severity observation. ScoreDelta is nil for
// signals that do not move the risk score (rendered as "—" by the UI,
// never as 0).
type Signal struct {
	ID         string
	PersonID   string
	PersonName string
	Level      string
	Reason     string
	ScoreDelta *float64
	Metadata   string
	CreatedAt  time.Time
}

// RiskScore is a point-in-time snapshot. The current score for a person is
// the row with the greatest CalculatedAt, never an in-place update.
type RiskScore struct {
	ID           string
	PersonID     string
	Score        float64
	CalculatedAt time.Time
}

type PerformanceEvent struct {
	ID        string
	PersonID  string
	KPIName   string
	Value     float64
	Source    string
	Metadata  string
	CreatedAt time.Time
}

// KPI is a static definition row: display name, unit, and whether higher
// values are better ("up") or worse ("down").
type KPI struct {
	ID        string
	Name      string
	Unit      string
	Direction string
}

const (
	PlanActive    = "active"
	PlanCompleted = "completed"
	PlanPaused    = "paused"
)

type CoachingPlan struct {
	ID        string
	PersonID  string
	Objective string
	Playbook  string
	Status    string
	CreatedAt time.Time
}

// Release case statuses form a one-way ladder: open -> approved -> executed.
const (
	CaseOpen     = "open"
	CaseApproved = "approved"
	CaseExecuted = "executed"
)

// ReleaseCase freezes its evidence as a JSON snapshot at creation time;
// later KPI changes never alter it.
type ReleaseCase struct {
	ID        string
	PersonID  string
	Reason    string
	Evidence  string
	RiskScore float64
	Decision  string
	Status    string
	OpenedAt  time.Time
	UpdatedAt time.Time
}
