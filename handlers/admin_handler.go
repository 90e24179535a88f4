package handlers

import (
	"context"
	"crypto/subtle"
	"sort"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GrantDispatcher dispatches notifications for a stored grant
type GrantDispatcher interface {
	ProcessGrantByID(ctx context.Context, grantID uuid.UUID) ([]models.Notification, error)
}

// Job is a maintenance job that can be triggered by hand
type Job interface {
	Run()
}

type AdminHandler struct {
	Dispatcher GrantDispatcher
	Jobs       map[string]Job
	Metrics    map[string]func() interface{}
	ClearCache func()
}

func NewAdminHandler(dispatcher GrantDispatcher) *AdminHandler {
	return &AdminHandler{
		Dispatcher: dispatcher,
		Jobs:       make(map[string]Job),
		Metrics:    make(map[string]func() interface{}),
	}
}

// RegisterJob exposes job under name for manual runs
func (h *AdminHandler) RegisterJob(name string, job Job) {
	h.Jobs[name] = job
}

// RegisterMetrics exposes a metrics snapshot under name
func (h *AdminHandler) RegisterMetrics(name string, snapshot func() interface{}) {
	h.Metrics[name] = snapshot
}

// RequireAdminToken rejects requests whose X-Admin-Token header does not
// match token. With an empty token every admin request is refused.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Unauthorized",
			})
		}
		return c.Next()
	}
}

// DispatchGrant runs notification dispatch for one grant
func (h *AdminHandler) DispatchGrant(c *fiber.Ctx) error {
	grantID, ok := parseUUID(c.Params("id"))
	if !ok {
		return badRequest(c, "Invalid grant id")
	}

	logrus.WithField("grant_id", grantID).Info("Manual grant dispatch triggered via admin endpoint")
	startTime := time.Now()

	created, err := h.Dispatcher.ProcessGrantByID(c.UserContext(), grantID)
	if err != nil && len(created) == 0 {
		return respondError(c, err)
	}

	response := fiber.Map{
		"success":  true,
		"data":     created,
		"count":    len(created),
		"duration": time.Since(startTime).String(),
	}
	if err != nil {
		response["warning"] = err.Error()
	}
	return c.JSON(response)
}

// TriggerJob runs a registered maintenance job synchronously
func (h *AdminHandler) TriggerJob(c *fiber.Ctx) error {
	name := c.Params("name")
	job, ok := h.Jobs[name]
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Unknown job: " + name,
		})
	}

	logrus.WithField("job", name).Info("Manual job run triggered via admin endpoint")
	startTime := time.Now()
	job.Run()

	return c.JSON(fiber.Map{
		"success":   true,
		"message":   name + " completed",
		"duration":  time.Since(startTime).String(),
		"timestamp": time.Now(),
	})
}

// GetMetrics returns every registered metrics snapshot
func (h *AdminHandler) GetMetrics(c *fiber.Ctx) error {
	names := make([]string, 0, len(h.Metrics))
	for name := range h.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := make(map[string]interface{}, len(names))
	for _, name := range names {
		metrics[name] = h.Metrics[name]()
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"data":      metrics,
		"timestamp": time.Now(),
	})
}

// ClearGrantCache drops the cached open grant listing
func (h *AdminHandler) ClearGrantCache(c *fiber.Ctx) error {
	if h.ClearCache != nil {
		h.ClearCache()
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cache cleared",
	})
}
