package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cache "github.com/control-tower/backend/internal/cache/redis"
	"github.com/control-tower/backend/internal/evaluation"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type PeopleHandler struct {
	db       *sqlite.Client
	cache    *cache.Client
	resolver *evaluation.Resolver
	riskTTL  time.Duration
}

func NewPeopleHandler(db *sqlite.Client, cacheClient *cache.Client, resolver *evaluation.Resolver, riskTTL time.Duration) *PeopleHandler {
	return &PeopleHandler{
		db:       db,
		cache:    cacheClient,
		resolver: resolver,
		riskTTL:  riskTTL,
	}
}

func (h *PeopleHandler) ListPeople(c *fiber.Ctx) error {
	people, err := h.db.ListPeople()
	if err != nil {
		logger.Error("Failed to list people", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load people",
		})
	}

	type personView struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		Role       string `json:"role"`
		Department string `json:"department"`
		Status     string `json:"status"`
	}

	view := make([]personView, 0, len(people))
	for _, p := range people {
		view = append(view, personView{
			ID:         p.ID,
			Name:       p.Name,
			Email:      p.Email,
			Role:       p.Role,
			Department: p.Department,
			Status:     p.Status,
		})
	}

	return c.JSON(fiber.Map{
		"people": view,
		"count":  len(view),
	})
}

// GetRisk returns the person's current risk score: the latest snapshot, or
// 0 with has_score=false when none has been written yet.
func (h *PeopleHandler) GetRisk(c *fiber.Ctx) error {
	personID := c.Params("id")

	if h.cache != nil {
		score, hit, err := h.cache.GetCurrentRisk(c.Context(), personID)
		if err != nil {
			logger.Warn("Risk cache read failed", zap.Error(err))
		} else if hit {
			return c.JSON(fiber.Map{
				"person_id": personID,
				"score":     score,
				"has_score": true,
				"cached":    true,
			})
		}
	}

	score, found, err := h.db.CurrentRiskScore(personID)
	if err != nil {
		logger.Error("Failed to get risk score", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load risk score",
		})
	}

	if h.cache != nil && found {
		if err := h.cache.SetCurrentRisk(c.Context(), personID, score, h.riskTTL); err != nil {
			logger.Warn("Risk cache write failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"person_id": personID,
		"score":     score,
		"has_score": found,
		"cached":    false,
	})
}

// GetEvidence returns the KPI evidence table the decision view renders.
func (h *PeopleHandler) GetEvidence(c *fiber.Ctx) error {
	person, err := h.db.GetPerson(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Person not found",
		})
	}

	evidence, err := h.resolver.EvidenceForPerson(person)
	if err != nil {
		logger.Error("Failed to build evidence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load evidence",
		})
	}

	return c.JSON(fiber.Map{
		"person_id": person.ID,
		"evidence":  evidence,
	})
}
