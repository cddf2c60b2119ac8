package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/generator"
	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/config"
	appLogger "github.com/control-tower/backend/pkg/logger"
)

// One-shot batch invocation for external schedulers. Exits non-zero on a
// failed run so the scheduler can alert; the next tick re-runs wholesale.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	metrics.Register()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}
	if err := db.SeedKPIs(generator.KPIDefinitions()); err != nil {
		appLogger.Fatal("Failed to seed KPI definitions", zap.Error(err))
	}

	gen := generator.New(db, nil, generator.Config{
		VarianceFrac:    cfg.Generator.VarianceFrac,
		WindowDays:      cfg.Generator.WindowDays,
		RiskWindowHours: cfg.Generator.RiskWindowHours,
	})

	report, err := gen.Run(context.Background())
	if err != nil {
		appLogger.Error("Generator run failed", zap.Error(err))
		os.Exit(1)
	}

	appLogger.Info("Generator run finished",
		zap.String("run_id", report.RunID),
		zap.Int("events", report.Events),
		zap.Int("signals", report.Signals),
		zap.Int("risk_scores", report.RiskScores),
	)
}
