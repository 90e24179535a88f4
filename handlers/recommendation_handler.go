package handlers

import (
	"context"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Recommender ranks open grants for a profile
type Recommender interface {
	Recommend(ctx context.Context, profileID uuid.UUID, limit int) ([]models.Recommendation, error)
	RecommendForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Recommendation, error)
}

// DefaultRecommendationLimit applies when the request names no limit
const DefaultRecommendationLimit = 10

type RecommendationHandler struct {
	Service      Recommender
	DefaultLimit int
}

func NewRecommendationHandler(service Recommender) *RecommendationHandler {
	return &RecommendationHandler{Service: service, DefaultLimit: DefaultRecommendationLimit}
}

func (h *RecommendationHandler) limit(c *fiber.Ctx) int {
	if h.DefaultLimit <= 0 {
		return queryLimit(c, DefaultRecommendationLimit)
	}
	return queryLimit(c, h.DefaultLimit)
}

// GetRecommendations serves GET /recommendations?user_id=&limit= and
// GET /recommendations?profile_id=&limit=
func (h *RecommendationHandler) GetRecommendations(c *fiber.Ctx) error {
	limit := h.limit(c)

	if raw := c.Query("profile_id"); raw != "" {
		profileID, ok := parseUUID(raw)
		if !ok {
			return badRequest(c, "Invalid profile_id")
		}
		recs, err := h.Service.Recommend(c.UserContext(), profileID, limit)
		if err != nil {
			return respondError(c, err)
		}
		return respondRecommendations(c, recs)
	}

	userID, ok := parseUUID(c.Query("user_id"))
	if !ok {
		return badRequest(c, "user_id or profile_id query parameter is required")
	}
	return h.forUser(c, userID, limit)
}

// GetUserRecommendations serves GET /profiles/:userId/recommendations
func (h *RecommendationHandler) GetUserRecommendations(c *fiber.Ctx) error {
	userID, ok := parseUUID(c.Params("userId"))
	if !ok {
		return badRequest(c, "Invalid user id")
	}
	return h.forUser(c, userID, h.limit(c))
}

func (h *RecommendationHandler) forUser(c *fiber.Ctx, userID uuid.UUID, limit int) error {
	recs, err := h.Service.RecommendForUser(c.UserContext(), userID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return respondRecommendations(c, recs)
}

func respondRecommendations(c *fiber.Ctx, recs []models.Recommendation) error {
	if recs == nil {
		recs = []models.Recommendation{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    recs,
		"count":   len(recs),
	})
}
