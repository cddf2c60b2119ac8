package handlers

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type CoachingHandler struct {
	db   *sqlite.Client
	feed *signal.Feed
}

func NewCoachingHandler(db *sqlite.Client, feed *signal.Feed) *CoachingHandler {
	return &CoachingHandler{
		db:   db,
		feed: feed,
	}
}

func (h *CoachingHandler) CreatePlan(c *fiber.Ctx) error {
	var req struct {
		PersonID  string `json:"person_id"`
		Objective string `json:"objective"`
		Playbook  string `json:"playbook"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if _, err := h.db.GetPerson(req.PersonID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Person not found",
		})
	}

	plan := &models.CoachingPlan{
		ID:        uuid.NewString(),
		PersonID:  req.PersonID,
		Objective: req.Objective,
		Playbook:  req.Playbook,
		Status:    models.PlanActive,
		CreatedAt: time.Now(),
	}

	if err := h.db.CreateCoachingPlan(plan); err != nil {
		logger.Error("Failed to create coaching plan", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create coaching plan",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(planView(plan))
}

// CompletePlan closes a coaching loop: the plan moves to completed, and one
// info signal records the closure. The transition is not reversible.
func (h *CoachingHandler) CompletePlan(c *fiber.Ctx) error {
	plan, err := h.db.CompleteCoachingPlan(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	closure := models.Signal{
		ID:        uuid.NewString(),
		PersonID:  plan.PersonID,
		Level:     signal.LevelInfo.String(),
		Reason:    fmt.Sprintf("Coaching loop closed: %s", plan.Objective),
		CreatedAt: time.Now(),
	}

	if err := h.db.InsertSignal(&closure); err != nil {
		logger.Error("Failed to record closure signal", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Plan completed but closure signal failed",
		})
	}

	metrics.SignalsEmitted.WithLabelValues(closure.Level).Inc()
	if h.feed != nil {
		h.feed.Publish(closure)
	}

	return c.JSON(planView(plan))
}

func (h *CoachingHandler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.db.ListCoachingPlans(c.Query("person_id"))
	if err != nil {
		logger.Error("Failed to list coaching plans", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load coaching plans",
		})
	}

	view := make([]fiber.Map, 0, len(plans))
	for i := range plans {
		view = append(view, planView(&plans[i]))
	}

	return c.JSON(fiber.Map{
		"plans": view,
		"count": len(view),
	})
}

func planView(p *models.CoachingPlan) fiber.Map {
	return fiber.Map{
		"id":         p.ID,
		"person_id":  p.PersonID,
		"objective":  p.Objective,
		"playbook":   p.Playbook,
		"status":     p.Status,
		"created_at": p.CreatedAt.UTC(),
	}
}
