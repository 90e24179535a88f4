package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type HealthHandler struct {
	CheckDatabase func(ctx context.Context) error
	startedAt     time.Time
}

func NewHealthHandler(checkDatabase func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		CheckDatabase: checkDatabase,
		startedAt:     time.Now(),
	}
}

// GetHealth reports "healthy" when the database answers and "unhealthy"
// with 503 otherwise
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	status := "healthy"
	database := "up"
	code := fiber.StatusOK

	if h.CheckDatabase != nil {
		if err := h.CheckDatabase(c.UserContext()); err != nil {
			logrus.WithError(err).Warn("Health check: database unreachable")
			status = "unhealthy"
			database = "down"
			code = fiber.StatusServiceUnavailable
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"database":  database,
		"uptime":    time.Since(h.startedAt).Seconds(),
		"timestamp": time.Now().Unix(),
	})
}
