package routes

import (
	"github.com/ahmetk3436/autoremedy/internal/handlers"
	"github.com/ahmetk3436/autoremedy/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

// Handlers groups every handler the API mounts.
type Handlers struct {
	Auth        *handlers.AuthHandler
	System      *handlers.SystemHandler
	Servers     *handlers.ServerHandler
	Remediation *handlers.RemediationHandler
	Workflows   *handlers.WorkflowHandler
	Agents      *handlers.AgentHandler
	Audit       *handlers.AuditHandler
	Connections *handlers.ConnectionHandler
	Events      *handlers.EventHandler
}

func Setup(app *fiber.App, jwtSecret string, h Handlers) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", h.System.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", h.Auth.Login)
	app.Post("/api/auth/refresh", h.Auth.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(jwtSecret))

	// Auth (protected)
	api.Get("/auth/me", h.Auth.Me)
	api.Put("/auth/password", h.Auth.ChangePassword)

	// Dashboard
	api.Get("/dashboard/metrics", h.System.DashboardMetrics)
	api.Get("/llm-usage", h.System.LLMUsage)

	// Servers and telemetry
	api.Get("/servers", h.Servers.ListServers)
	api.Post("/servers", h.Servers.CreateServer)
	api.Get("/servers/:id", h.Servers.GetServer)
	api.Get("/servers/:id/metrics", h.Servers.RecentMetrics)
	api.Post("/metrics", h.Servers.IngestMetrics)
	api.Get("/alerts", h.Servers.ListAlerts)

	// Remediation
	api.Get("/remediation-actions", h.Remediation.ListActions)
	api.Get("/remediation-actions/:id", h.Remediation.GetAction)
	api.Post("/remediation-actions/:id/retry", h.Remediation.Retry)

	// Approval workflows
	api.Get("/workflows", h.Workflows.ListWorkflows)
	api.Get("/workflows/:id", h.Workflows.GetWorkflow)
	api.Post("/workflows/:id/decision", h.Workflows.Decide)

	// Agents
	api.Get("/agents", h.Agents.ListAgents)
	api.Get("/agents/:id", h.Agents.GetAgent)
	api.Post("/agents/:id/start", h.Agents.StartAgent)
	api.Post("/agents/:id/stop", h.Agents.StopAgent)
	api.Post("/agents/:id/pause", h.Agents.PauseAgent)

	// Audit trail
	api.Get("/audit-logs", h.Audit.ListAuditLogs)

	// Connections
	api.Get("/connections", h.Connections.ListConnections)
	api.Post("/connections", h.Connections.RegisterConnection)
	api.Delete("/connections/:id", h.Connections.RemoveConnection)

	// Event feed (WebSocket)
	api.Use("/events", h.Events.UpgradeCheck())
	api.Get("/events", h.Events.Stream())
}
