package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/control-tower/backend/internal/evaluation"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type EvaluationHandler struct {
	db       *sqlite.Client
	resolver *evaluation.Resolver
}

func NewEvaluationHandler(db *sqlite.Client, resolver *evaluation.Resolver) *EvaluationHandler {
	return &EvaluationHandler{
		db:       db,
		resolver: resolver,
	}
}

// Evaluate runs the release evaluation for a person. The response always
// carries the source of the decision so the UI can label rule-based
// results, never hiding the remote/fallback distinction.
func (h *EvaluationHandler) Evaluate(c *fiber.Ctx) error {
	var body struct {
		PolicyExcerpt string `json:"policy_excerpt"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	person, err := h.db.GetPerson(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Person not found",
		})
	}

	req, err := h.resolver.BuildRequest(person, body.PolicyExcerpt)
	if err != nil {
		logger.Error("Failed to build evaluation request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build evaluation request",
		})
	}

	outcome := h.resolver.Evaluate(c.Context(), req)

	logger.Info("Evaluation resolved",
		zap.String("person_id", person.ID),
		zap.String("source", string(outcome.Source)),
		zap.String("decision", outcome.Decision.Decision),
	)

	return c.JSON(fiber.Map{
		"person_id":     person.ID,
		"source":        outcome.Source,
		"decision":      outcome.Decision.Decision,
		"rationale":     outcome.Decision.Rationale,
		"communication": outcome.Decision.Communication,
		"checklist":     outcome.Decision.Checklist,
		"evidence":      req.Evidence,
		"risk_score":    req.RiskScore,
	})
}
