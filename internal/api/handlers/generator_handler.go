package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cache "github.com/control-tower/backend/internal/cache/redis"
	"github.com/control-tower/backend/internal/generator"
	"github.com/control-tower/backend/pkg/logger"
)

type GeneratorHandler struct {
	gen   *generator.Generator
	cache *cache.Client
}

func NewGeneratorHandler(gen *generator.Generator, cacheClient *cache.Client) *GeneratorHandler {
	return &GeneratorHandler{
		gen:   gen,
		cache: cacheClient,
	}
}

// RunGenerator triggers one batch run. A stage failure reports the whole
// run as failed; earlier writes from the same run are not rolled back.
func (h *GeneratorHandler) RunGenerator(c *fiber.Ctx) error {
	report, err := h.gen.Run(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Generator run failed",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateDerivedViews(c.Context()); err != nil {
			logger.Warn("Cache invalidation after generator run failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"run_id":      report.RunID,
		"people":      report.People,
		"events":      report.Events,
		"signals":     report.Signals,
		"risk_scores": report.RiskScores,
		"duration_ms": report.Duration.Milliseconds(),
	})
}
