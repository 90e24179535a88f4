package handlers

import (
	"errors"
	"strconv"

	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case shared.IsNotFound(err):
		return fiber.StatusNotFound
	case shared.IsInvalidProfile(err), shared.HasCode(err, shared.CodeInvalidRequest):
		return fiber.StatusBadRequest
	case shared.HasCode(err, shared.CodeInvalidGrant):
		return fiber.StatusUnprocessableEntity
	case shared.HasCode(err, shared.CodeServiceUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes the error envelope. Server-side failures are logged
// and their details kept out of the response.
func respondError(c *fiber.Ctx, err error) error {
	status := errorStatus(err)

	message := err.Error()
	var serviceErr *shared.ServiceError
	if errors.As(err, &serviceErr) {
		message = serviceErr.Message
	}
	if status >= fiber.StatusInternalServerError {
		if serviceErr != nil {
			serviceErr.LogError()
		}
		logrus.WithFields(logrus.Fields{
			"component": "API",
			"method":    c.Method(),
			"path":      c.Path(),
			"status":    status,
			"error":     err,
		}).Error("Request failed")
		message = utils.StatusMessage(status)
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// parseUUID reads a uuid from a route param or query value
func parseUUID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit reads the limit query value. A missing, malformed or
// non-positive value yields fallback.
func queryLimit(c *fiber.Ctx, fallback int) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
