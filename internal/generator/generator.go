// Package generator is the periodic batch job: it synthesizes KPI
// observations for every active person, derives severity signals from the
// trailing window, and rolls the per-person risk score forward as a new
// snapshot. Runs are at-least-once: a rerun inserts fresh synthetic rows,
// and a stage failure aborts the run without rolling back earlier stages.
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

const (
	minRiskScore = 0.0
	maxRiskScore = 10.0
)

type Config struct {
	// VarianceFrac is the half-width of the uniform noise band around each
	// target, as a fraction of the target.
	VarianceFrac float64
	// WindowDays is the aggregation window for per-KPI means.
	WindowDays int
	// RiskWindowHours is the trailing window whose signal deltas feed the
	// new risk snapshot.
	RiskWindowHours int
}

func DefaultConfig() Config {
	return Config{
		VarianceFrac:    0.3,
		WindowDays:      7,
		RiskWindowHours: 24,
	}
}

type RunReport struct {
	RunID      string        `json:"run_id"`
	People     int           `json:"people"`
	Events     int           `json:"events"`
	Signals    int           `json:"signals"`
	RiskScores int           `json:"risk_scores"`
	Duration   time.Duration `json:"duration"`
}

type Generator struct {
	db   *sqlite.Client
	feed *signal.Feed
	cfg  Config
	rng  *rand.Rand
	now  func() time.Time
}

// Option configures a Generator; used by tests to pin the clock and RNG.
type Option func(*Generator)

func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		g.rng = rng
	}
}

// New creates a generator. feed may be nil when no live subscribers exist
// (the one-shot cmd/generator invocation).
func New(db *sqlite.Client, feed *signal.Feed, cfg Config, opts ...Option) *Generator {
	if cfg.VarianceFrac <= 0 {
		cfg.VarianceFrac = 0.3
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.RiskWindowHours <= 0 {
		cfg.RiskWindowHours = 24
	}

	g := &Generator{
		db:   db,
		feed: feed,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Run executes the three stages in order. The first stage error aborts the
// whole run; earlier writes stay in place.
func (g *Generator) Run(ctx context.Context) (*RunReport, error) {
	start := g.now()
	report := &RunReport{RunID: uuid.NewString()}

	logger.Info("Generator run starting", zap.String("run_id", report.RunID))

	people, err := g.db.ListActivePeople()
	if err != nil {
		g.failRun(report, err)
		return nil, fmt.Errorf("generator run %s: %w", report.RunID, err)
	}
	report.People = len(people)

	if err := g.importObservations(ctx, people, report); err != nil {
		g.failRun(report, err)
		return nil, fmt.Errorf("generator run %s: import stage: %w", report.RunID, err)
	}

	if err := g.computeSignals(ctx, people, report); err != nil {
		g.failRun(report, err)
		return nil, fmt.Errorf("generator run %s: signal stage: %w", report.RunID, err)
	}

	if err := g.updateRiskScores(ctx, report); err != nil {
		g.failRun(report, err)
		return nil, fmt.Errorf("generator run %s: risk stage: %w", report.RunID, err)
	}

	report.Duration = g.now().Sub(start)
	metrics.GeneratorRunsTotal.WithLabelValues("success").Inc()
	metrics.GeneratorRunDuration.Observe(report.Duration.Seconds())

	logger.Info("Generator run completed",
		zap.String("run_id", report.RunID),
		zap.Int("people", report.People),
		zap.Int("events", report.Events),
		zap.Int("signals", report.Signals),
		zap.Int("risk_scores", report.RiskScores),
		zap.Duration("duration", report.Duration),
	)

	return report, nil
}

func (g *Generator) failRun(report *RunReport, err error) {
	metrics.GeneratorRunsTotal.WithLabelValues("failure").Inc()
	logger.Error("Generator run failed",
		zap.String("run_id", report.RunID),
		zap.Error(err),
	)
}

// importObservations synthesizes one observation per (person, role KPI):
// target plus uniform noise in ±VarianceFrac*target, clamped at zero.
func (g *Generator) importObservations(ctx context.Context, people []models.Person, report *RunReport) error {
	now := g.now()
	runMeta := fmt.Sprintf(`{"run_id":%q}`, report.RunID)

	var events []models.PerformanceEvent
	for _, person := range people {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, target := range TargetsForRole(person.Role) {
			value := g.synthesize(target.Target)
			events = append(events, models.PerformanceEvent{
				ID:        uuid.NewString(),
				PersonID:  person.ID,
				KPIName:   target.KPI,
				Value:     value,
				Source:    SourceTag(target.KPI),
				Metadata:  runMeta,
				CreatedAt: now,
			})
		}
	}

	if err := g.db.InsertPerformanceEvents(events); err != nil {
		return err
	}

	report.Events = len(events)
	return nil
}

func (g *Generator) synthesize(target float64) float64 {
	band := g.cfg.VarianceFrac * target
	value := target + (g.rng.Float64()*2-1)*band
	if value < 0 {
		value = 0
	}
	return value
}

// computeSignals compares each person's windowed per-KPI mean against the
// role target and emits at most one signal per (person, KPI).
func (g *Generator) computeSignals(ctx context.Context, people []models.Person, report *RunReport) error {
	now := g.now()
	since := now.AddDate(0, 0, -g.cfg.WindowDays)
	runMeta := fmt.Sprintf(`{"run_id":%q}`, report.RunID)

	var signals []models.Signal
	for _, person := range people {
		if err := ctx.Err(); err != nil {
			return err
		}

		means, err := g.db.KPIMeans(person.ID, since)
		if err != nil {
			return err
		}

		for _, target := range TargetsForRole(person.Role) {
			mean, ok := means[target.KPI]
			if !ok || target.Target <= 0 {
				continue
			}

			level, delta, emit := classify(mean / target.Target)
			if !emit {
				continue
			}

			d := delta
			signals = append(signals, models.Signal{
				ID:         uuid.NewString(),
				PersonID:   person.ID,
				PersonName: person.Name,
				Level:      level.String(),
				Reason: fmt.Sprintf("%s %d-day mean %.2f vs target %.2f",
					target.KPI, g.cfg.WindowDays, mean, target.Target),
				ScoreDelta: &d,
				Metadata:   runMeta,
				CreatedAt:  now,
			})
		}
	}

	if err := g.db.InsertSignals(signals); err != nil {
		return err
	}

	for _, s := range signals {
		metrics.SignalsEmitted.WithLabelValues(s.Level).Inc()
	}
	if g.feed != nil {
		g.feed.Publish(signals...)
	}

	report.Signals = len(signals)
	return nil
}

// classify maps a mean/target ratio onto a severity level and score delta.
// Ratios in (0.95, 1.20) are healthy and emit nothing.
func classify(ratio float64) (signal.Level, float64, bool) {
	switch {
	case ratio <= 0.60:
		return signal.LevelCritical, 2.5, true
	case ratio <= 0.80:
		return signal.LevelRisk, 1.5, true
	case ratio <= 0.95:
		return signal.LevelWarn, 0.8, true
	case ratio >= 1.20:
		return signal.LevelInfo, -1.0, true
	default:
		return signal.LevelInfo, 0, false
	}
}

// updateRiskScores folds the trailing window's signal deltas into one new
// snapshot per affected person, clamped to [0, 10]. Prior score is the
// latest stored snapshot, or 0 for a person with none.
func (g *Generator) updateRiskScores(ctx context.Context, report *RunReport) error {
	now := g.now()
	since := now.Add(-time.Duration(g.cfg.RiskWindowHours) * time.Hour)

	sums, err := g.db.SignalDeltaSums(since)
	if err != nil {
		return err
	}

	for personID, sum := range sums {
		if err := ctx.Err(); err != nil {
			return err
		}

		prior, _, err := g.db.CurrentRiskScore(personID)
		if err != nil {
			return err
		}

		score := clamp(prior+sum, minRiskScore, maxRiskScore)
		if err := g.db.InsertRiskScore(&models.RiskScore{
			ID:           uuid.NewString(),
			PersonID:     personID,
			Score:        score,
			CalculatedAt: now,
		}); err != nil {
			return err
		}

		metrics.RiskScoreSnapshot.Observe(score)
		report.RiskScores++
	}

	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
