package handlers

import (
	"context"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ProfileManager reads and updates the profile owned by a user
type ProfileManager interface {
	GetOrCreateForUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	UpdateForUser(ctx context.Context, userID uuid.UUID, update services.ProfileUpdate) (*models.UserProfile, error)
}

type ProfileHandler struct {
	Service ProfileManager
}

func NewProfileHandler(service ProfileManager) *ProfileHandler {
	return &ProfileHandler{Service: service}
}

func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID, ok := parseUUID(c.Params("userId"))
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	profile, err := h.Service.GetOrCreateForUser(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    profile,
	})
}

func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, ok := parseUUID(c.Params("userId"))
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	var update services.ProfileUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "Invalid request body")
	}

	profile, err := h.Service.UpdateForUser(c.UserContext(), userID, update)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    profile,
	})
}
