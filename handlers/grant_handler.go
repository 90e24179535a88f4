package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GrantBrowser reads and searches grant records
type GrantBrowser interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Grant, error)
	Search(ctx context.Context, filters models.GrantFilters, skip, take int) (models.GrantPage, error)
}

type GrantHandler struct {
	Service GrantBrowser
}

func NewGrantHandler(service GrantBrowser) *GrantHandler {
	return &GrantHandler{Service: service}
}

// SearchGrants serves GET /grants with optional query, region (comma
// separated), sector, status, min_amount, max_amount, deadline_after,
// deadline_before, skip and take parameters
func (h *GrantHandler) SearchGrants(c *fiber.Ctx) error {
	filters := models.GrantFilters{
		Query:  c.Query("query"),
		Sector: c.Query("sector"),
		Status: models.GrantStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
	}
	if raw := c.Query("region"); raw != "" {
		filters.Regions = strings.Split(raw, ",")
	}

	var err error
	if filters.MinAmount, err = queryAmount(c, "min_amount"); err != nil {
		return badRequest(c, "Invalid min_amount")
	}
	if filters.MaxAmount, err = queryAmount(c, "max_amount"); err != nil {
		return badRequest(c, "Invalid max_amount")
	}
	if filters.DeadlineAfter, err = queryDate(c, "deadline_after"); err != nil {
		return badRequest(c, "Invalid deadline_after, expected YYYY-MM-DD")
	}
	if filters.DeadlineBefore, err = queryDate(c, "deadline_before"); err != nil {
		return badRequest(c, "Invalid deadline_before, expected YYYY-MM-DD")
	}

	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		return badRequest(c, "Invalid skip")
	}
	take, err := queryInt(c, "take", services.DefaultGrantPageSize)
	if err != nil {
		return badRequest(c, "Invalid take")
	}

	page, err := h.Service.Search(c.UserContext(), filters, skip, take)
	if err != nil {
		return respondError(c, err)
	}
	if page.Data == nil {
		page.Data = []models.Grant{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    page.Data,
		"pagination": fiber.Map{
			"total":        page.Total,
			"skip":         page.Skip,
			"take":         page.Take,
			"current_page": page.CurrentPage,
			"total_pages":  page.TotalPages,
		},
	})
}

// GetGrant serves GET /grants/:id
func (h *GrantHandler) GetGrant(c *fiber.Ctx) error {
	id, ok := parseUUID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid grant id")
	}

	grant, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if grant == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Grant not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    grant,
	})
}

func queryAmount(c *fiber.Ctx, key string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// queryDate accepts a calendar date or an RFC 3339 timestamp
func queryDate(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func queryInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
