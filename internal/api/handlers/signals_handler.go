package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	cache "github.com/control-tower/backend/internal/cache/redis"
	"github.com/control-tower/backend/internal/metrics"
	"github.com/control-tower/backend/internal/signal"
	"github.com/control-tower/backend/internal/storage/models"
	"github.com/control-tower/backend/internal/storage/sqlite"
	"github.com/control-tower/backend/pkg/logger"
)

type SignalsHandler struct {
	db      *sqlite.Client
	cache   *cache.Client
	viewTTL time.Duration
}

func NewSignalsHandler(db *sqlite.Client, cacheClient *cache.Client, viewTTL time.Duration) *SignalsHandler {
	return &SignalsHandler{
		db:      db,
		cache:   cacheClient,
		viewTTL: viewTTL,
	}
}

type signalView struct {
	ID         string   `json:"id"`
	PersonID   string   `json:"person_id"`
	PersonName string   `json:"person_name"`
	Level      string   `json:"level"`
	Reason     string   `json:"reason"`
	ScoreDelta *float64 `json:"score_delta"`
	// DeltaDisplay renders a null delta as an em dash, never as 0.
	DeltaDisplay string `json:"score_delta_display"`
	CreatedAt    string `json:"created_at"`
}

// ListSignals serves the ranked, deduplicated signal view. A failed store
// read is surfaced as an error, never as a stale or partial view.
func (h *SignalsHandler) ListSignals(c *fiber.Ctx) error {
	filter, desc, err := parseSignalFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	cacheKey := cache.SignalViewKey(desc)
	if h.cache != nil {
		var cached []signalView
		hit, err := h.cache.GetSignalView(c.Context(), cacheKey, &cached)
		if err != nil {
			logger.Warn("Signal view cache read failed", zap.Error(err))
		} else if hit {
			metrics.SignalViewCacheHits.WithLabelValues("hit").Inc()
			return c.JSON(fiber.Map{
				"signals": cached,
				"count":   len(cached),
				"cached":  true,
			})
		}
		metrics.SignalViewCacheHits.WithLabelValues("miss").Inc()
	}

	rows, err := h.db.ListSignals(filter.From, filter.Until)
	if err != nil {
		logger.Error("Failed to list signals", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load signals",
		})
	}

	ranked := signal.Rank(rows, filter)
	view := make([]signalView, 0, len(ranked))
	for _, s := range ranked {
		view = append(view, toSignalView(s))
	}

	if h.cache != nil {
		if err := h.cache.SetSignalView(c.Context(), cacheKey, view, h.viewTTL); err != nil {
			logger.Warn("Signal view cache write failed", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"signals": view,
		"count":   len(view),
		"cached":  false,
	})
}

func toSignalView(s models.Signal) signalView {
	v := signalView{
		ID:           s.ID,
		PersonID:     s.PersonID,
		PersonName:   s.PersonName,
		Level:        signal.ParseLevel(s.Level).String(),
		Reason:       s.Reason,
		ScoreDelta:   s.ScoreDelta,
		DeltaDisplay: "—",
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.ScoreDelta != nil {
		v.DeltaDisplay = fmt.Sprintf("%+.1f", *s.ScoreDelta)
	}
	return v
}

// parseSignalFilter reads levels/from/until query params and returns both
// the filter and a normalized description used as the cache key input.
func parseSignalFilter(c *fiber.Ctx) (signal.Filter, string, error) {
	var filter signal.Filter

	if raw := c.Query("levels"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			level := signal.ParseLevel(part)
			if !level.Known() {
				return filter, "", fmt.Errorf("unrecognized level %q", part)
			}
			filter.Levels = append(filter.Levels, level)
		}
	}

	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, "", fmt.Errorf("invalid from timestamp: %v", err)
		}
		filter.From = &ts
	}

	if raw := c.Query("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, "", fmt.Errorf("invalid until timestamp: %v", err)
		}
		filter.Until = &ts
	}

	levels := make([]string, 0, len(filter.Levels))
	for _, l := range filter.Levels {
		levels = append(levels, l.String())
	}

	desc := fmt.Sprintf("levels=%s|from=%s|until=%s",
		strings.Join(levels, ","), c.Query("from"), c.Query("until"))
	return filter, desc, nil
}
