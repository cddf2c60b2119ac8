package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/api/handlers"
	cache "github.com/control-tower/backend/internal/cache/redis"
	"github.com/control-tower/backend/internal/evaluation"
	"github.com/control-tower/backend/internal/generator"
	"github.com/control-tower/backend/internal/llm"
	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/middleware/ratelimit"
	"github.com/control-tower/backend/internal/middleware/security"
	"github.com/control-tower/backend/internal/middleware/validation"
	signalfeed "github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/config"
	appLogger "github.com/control-tower/backend/pkg/logger"
)

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

	appLogger.Info("Starting Control Tower API server")

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

	var cacheClient *cache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = cache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, serving uncached reads", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	feed := signalfeed.NewFeed()
	resolver := evaluation.NewResolver(llmClient, db)
	gen := generator.New(db, feed, generator.Config{
		VarianceFrac:    cfg.Generator.VarianceFrac,
		WindowDays:      cfg.Generator.WindowDays,
		RiskWindowHours: cfg.Generator.RiskWindowHours,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	evaluateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 10,
		Logger:               appLogger.GetLogger(),
	})
	defer evaluateLimiter.Stop()

	signalsHandler := handlers.NewSignalsHandler(db, cacheClient, time.Duration(cfg.Redis.SignalViewTTL)*time.Second)
	peopleHandler := handlers.NewPeopleHandler(db, cacheClient, resolver, time.Duration(cfg.Redis.RiskScoreTTL)*time.Second)
	evaluationHandler := handlers.NewEvaluationHandler(db, resolver)
	casesHandler := handlers.NewCasesHandler(db, resolver)
	coachingHandler := handlers.NewCoachingHandler(db, feed)
	generatorHandler := handlers.NewGeneratorHandler(gen, cacheClient)
	wsHandler := handlers.NewWebSocketHandler(feed)

	api := app.Group("/api/v1")

	api.Get("/signals", signalsHandler.ListSignals)

	api.Get("/people", peopleHandler.ListPeople)
	api.Get("/people/:id/risk", peopleHandler.GetRisk)
	api.Get("/people/:id/evidence", peopleHandler.GetEvidence)
	api.Post("/people/:id/evaluate", evaluateLimiter.Middleware(), evaluationHandler.Evaluate)

	api.Post("/release-cases", casesHandler.CreateCase)
	api.Get("/release-cases/:id", casesHandler.GetCase)
	api.Post("/release-cases/:id/approve", casesHandler.ApproveCase)
	api.Post("/release-cases/:id/execute", casesHandler.ExecuteCase)

	api.Post("/coaching-plans", coachingHandler.CreatePlan)
	api.Get("/coaching-plans", coachingHandler.ListPlans)
	api.Post("/coaching-plans/:id/complete", coachingHandler.CompletePlan)

	api.Post("/generator/run", generatorHandler.RunGenerator)

	api.Get("/ws/signals", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(wsHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.Handler())

	tickerCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()
	if cfg.Generator.IntervalMinutes > 0 {
		go runGeneratorLoop(tickerCtx, gen, cacheClient, time.Duration(cfg.Generator.IntervalMinutes)*time.Minute)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopTicker()
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// runGeneratorLoop drives the batch job on a fixed interval when no
// external scheduler owns it. A failed run is logged and retried wholesale
// on the next tick.
func runGeneratorLoop(ctx context.Context, gen *generator.Generator, cacheClient *cache.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := gen.Run(ctx); err != nil {
				continue
			}
			if cacheClient != nil {
				if err := cacheClient.InvalidateDerivedViews(ctx); err != nil {
					appLogger.Warn("Cache invalidation after scheduled run failed", zap.Error(err))
				}
			}
		}
	}
}
