package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_tower_signals_emitted_total",
			Help: "Signals emitted, by severity level",
		},
		[]string{"level"},
	)

	EvaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_tower_evaluations_total",
			Help: "Release evaluations resolved, by decision source",
		},
		[]string{"source"},
	)

	ReleaseCasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_tower_release_cases_total",
			Help: "Release cases created, by decision",
		},
		[]string{"decision"},
	)

	GeneratorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_tower_generator_runs_total",
			Help: "Batch generator runs, by outcome",
		},
		[]string{"status"},
	)

	GeneratorRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "control_tower_generator_run_seconds",
			Help:    "Batch generator run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	RiskScoreSnapshot = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "control_tower_risk_score",
			Help:    "Distribution of newly written risk score snapshots",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	SignalViewCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_tower_signal_view_cache_total",
			Help: "Ranked signal view cache lookups, by result",
		},
		[]string{"result"},
	)
)

func Register() {
	prometheus.MustRegister(
		SignalsEmitted,
		EvaluationTotal,
		ReleaseCasesTotal,
		GeneratorRunsTotal,
		GeneratorRunDuration,
		RiskScoreSnapshot,
		SignalViewCacheHits,
	)
}

// Handler exposes the prometheus registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
