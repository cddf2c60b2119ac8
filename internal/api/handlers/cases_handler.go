package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/decision"
	"github.com/control-tower/backend/internal/evaluation"
	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type CasesHandler struct {
	db       *sqlite.Client
	resolver *evaluation.Resolver
}

func NewCasesHandler(db *sqlite.Client, resolver *evaluation.Resolver) *CasesHandler {
	return &CasesHandler{
		db:       db,
		resolver: resolver,
	}
}

// CreateCase records an operator-accepted decision. The evidence snapshot
// and risk score are captured server-side at creation time and frozen.
func (h *CasesHandler) CreateCase(c *fiber.Ctx) error {
	var req struct {
		PersonID string `json:"person_id"`
		Reason   string `json:"reason"`
		Decision string `json:"decision"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Decision != decision.DecisionRelease && req.Decision != decision.DecisionExtendCoaching {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "decision must be release or extend_coaching",
		})
	}

	person, err := h.db.GetPerson(req.PersonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Person not found",
		})
	}

	evidence, err := h.resolver.EvidenceForPerson(person)
	if err != nil {
		logger.Error("Failed to snapshot evidence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to snapshot evidence",
		})
	}

	risk, _, err := h.db.CurrentRiskScore(person.ID)
	if err != nil {
		logger.Error("Failed to read risk score", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read risk score",
		})
	}

	rc, err := h.resolver.OpenCase(person.ID, req.Reason, req.Decision, evidence, risk)
	if err != nil {
		logger.Error("Failed to create release case", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create release case",
		})
	}

	metrics.ReleaseCasesTotal.WithLabelValues(rc.Decision).Inc()

	return c.Status(fiber.StatusCreated).JSON(caseView(rc))
}

func (h *CasesHandler) ApproveCase(c *fiber.Ctx) error {
	return h.transition(c, models.CaseOpen, models.CaseApproved)
}

func (h *CasesHandler) ExecuteCase(c *fiber.Ctx) error {
	return h.transition(c, models.CaseApproved, models.CaseExecuted)
}

func (h *CasesHandler) GetCase(c *fiber.Ctx) error {
	rc, err := h.db.GetReleaseCase(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Release case not found",
		})
	}
	return c.JSON(caseView(rc))
}

func (h *CasesHandler) transition(c *fiber.Ctx, from, to string) error {
	id := c.Params("id")

	if err := h.db.TransitionReleaseCase(id, from, to); err != nil {
		logger.Warn("Release case transition rejected",
			zap.String("case_id", id),
			zap.String("to", to),
			zap.Error(err),
		)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	rc, err := h.db.GetReleaseCase(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reload release case",
		})
	}

	return c.JSON(caseView(rc))
}

func caseView(rc *models.ReleaseCase) fiber.Map {
	return fiber.Map{
		"id":         rc.ID,
		"person_id":  rc.PersonID,
		"reason":     rc.Reason,
		"evidence":   rc.Evidence,
		"risk_score": rc.RiskScore,
		"decision":   rc.Decision,
		"status":     rc.Status,
		"opened_at":  rc.OpenedAt.UTC(),
		"updated_at": rc.UpdatedAt.UTC(),
	}
}
