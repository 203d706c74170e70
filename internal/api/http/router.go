package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Assignments    *handlers.AssignmentsHandler
	Chat           *handlers.ChatHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/stats", cfg.Health.Stats)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := api.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/closed", auth.RequireRole(domain.RoleSupervisor, domain.RoleAdministrator), cfg.Tickets.ListClosedTickets)
	tickets.Post("/", auth.RequireRole(domain.RoleClient, domain.RoleAdministrator), cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id/state", cfg.Tickets.Transition)
	tickets.Post("/:id/evaluation", auth.RequireRole(domain.RoleClient), cfg.Tickets.Evaluate)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Get("/:id/audit", cfg.Tickets.ListAudit)
	tickets.Delete("/:id", auth.RequireRole(domain.RoleAdministrator), cfg.Tickets.DeleteTicket)

	tickets.Post("/:id/assignment", auth.RequireRole(domain.RoleSupervisor, domain.RoleAdministrator), cfg.Assignments.Assign)
	tickets.Get("/:id/assignment", cfg.Assignments.Current)

	tickets.Post("/:id/chat/:kind", cfg.Chat.Send)
	tickets.Get("/:id/chat/:kind", cfg.Chat.History)
}
