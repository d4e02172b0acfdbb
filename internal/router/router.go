package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/markr-app/markr-api/internal/config"
	"github.com/markr-app/markr-api/internal/handler"
	"github.com/markr-app/markr-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler *handler.AssessmentHandler
	APIKeyMiddleware  fiber.Handler
	RateLimiter       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	auth := deps.APIKeyMiddleware
	if auth == nil {
		auth = func(c *fiber.Ctx) error { return c.Next() }
	}

	guards := []fiber.Handler{auth}
	if deps.RateLimiter != nil {
		guards = append(guards, deps.RateLimiter)
	}

	if deps.AssessmentHandler != nil {
		assessments := api.Group("/assessments", guards...)
		deps.AssessmentHandler.Register(assessments)
	}
}
