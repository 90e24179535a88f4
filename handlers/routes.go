package handlers

import "github.com/gofiber/fiber/v2"

// Handlers bundles the API handlers for route registration
type Handlers struct {
	Health          *HealthHandler
	Recommendations *RecommendationHandler
	Grants          *GrantHandler
	Profiles        *ProfileHandler
	Notifications   *NotificationHandler
	Admin           *AdminHandler
	AdminToken      string
}

// RegisterRoutes mounts the API on app
func RegisterRoutes(app *fiber.App, h Handlers) {
	if h.Health != nil {
		app.Get("/health", h.Health.GetHealth)
	}

	api := app.Group("/api/v1")

	// Recommendation Routes
	api.Get("/recommendations", h.Recommendations.GetRecommendations)
	api.Get("/profiles/:userId/recommendations", h.Recommendations.GetUserRecommendations)

	// Grant Routes
	if h.Grants != nil {
		api.Get("/grants", h.Grants.SearchGrants)
		api.Get("/grants/:id", h.Grants.GetGrant)
	}

	// Profile Routes
	api.Get("/profiles/:userId", h.Profiles.GetProfile)
	api.Put("/profiles/:userId", h.Profiles.UpdateProfile)

	// Notification Routes
	api.Get("/profiles/:userId/notifications", h.Notifications.GetNotifications)

	// Admin Routes
	if h.Admin != nil {
		admin := api.Group("/admin", RequireAdminToken(h.AdminToken))
		admin.Post("/grants/:id/dispatch", h.Admin.DispatchGrant)
		admin.Post("/jobs/:name/run", h.Admin.TriggerJob)
		admin.Get("/metrics", h.Admin.GetMetrics)
		admin.Delete("/cache", h.Admin.ClearGrantCache)
	}
}
