package handlers

import (
	"context"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// NotificationLister lists the newest notifications of a user's profile
type NotificationLister interface {
	GetRecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.NotificationWithGrant, error)
}

type NotificationHandler struct {
	Service NotificationLister
}

func NewNotificationHandler(service NotificationLister) *NotificationHandler {
	return &NotificationHandler{Service: service}
}

// GetNotifications serves GET /profiles/:userId/notifications?limit=
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	userID, ok := parseUUID(c.Params("userId"))
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	notifications, err := h.Service.GetRecentForUser(c.UserContext(), userID, queryLimit(c, 0))
	if err != nil {
		return respondError(c, err)
	}
	if notifications == nil {
		notifications = []models.NotificationWithGrant{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    notifications,
		"count":   len(notifications),
	})
}
