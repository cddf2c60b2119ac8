package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxReasonLength     int
	MaxObjectiveLength  int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware enforces body shape for the write routes before the handlers
// run. Read routes pass through untouched.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxReasonLength == 0 {
		cfg.MaxReasonLength = 2000
	}
	if cfg.MaxObjectiveLength == 0 {
		cfg.MaxObjectiveLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if len(c.Body()) > 0 && contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.HasSuffix(path, "/release-cases") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			personID, ok := req["person_id"].(string)
			if !ok || personID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "person_id is required and must be a string",
				})
			}

			reason, ok := req["reason"].(string)
			if !ok || reason == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "reason is required and must be a string",
				})
			}
			if len(reason) > cfg.MaxReasonLength {
				cfg.Logger.Warn("Release case reason too long",
					zap.String("ip", c.IP()),
					zap.Int("length", len(reason)),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "reason exceeds maximum length",
				})
			}
		}

		if strings.HasSuffix(path, "/coaching-plans") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			personID, ok := req["person_id"].(string)
			if !ok || personID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "person_id is required and must be a string",
				})
			}

			objective, ok := req["objective"].(string)
			if !ok || objective == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "objective is required and must be a string",
				})
			}
			if len(objective) > cfg.MaxObjectiveLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "objective exceeds maximum length",
				})
			}
		}

		return c.Next()
	}
}
