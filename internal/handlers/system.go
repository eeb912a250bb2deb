package handlers

import (
	"context"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/agents"
	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/gofiber/fiber/v2"
)

var startTime = time.Now()
var Version = "1.0.0"

// Pinger reports whether the backing database is reachable. A nil Pinger
// means the process runs on the in-memory store.
type Pinger func(ctx context.Context) error

type SystemHandler struct {
	store store.Store
	ping  Pinger
	usage *ai.UsageTracker
	now   func() time.Time
}

func NewSystemHandler(st store.Store, ping Pinger, usage *ai.UsageTracker) *SystemHandler {
	return &SystemHandler{store: st, ping: ping, usage: usage, now: time.Now}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "memory"
	statusCode := fiber.StatusOK
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		dbStatus = "ok"
		if err := h.ping(ctx); err != nil {
			dbStatus = "unreachable: " + err.Error()
			statusCode = fiber.StatusServiceUnavailable
		}
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "autoremedy",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

// DashboardMetrics summarises the fleet, alerts and the last day of
// remediation activity.
func (h *SystemHandler) DashboardMetrics(c *fiber.Ctx) error {
	ctx := c.UserContext()

	// ─── Servers ────────────────────────────────────────────────────────
	servers, err := h.store.ListServers(ctx)
	if err != nil {
		return fail(c, err, "Failed to list servers")
	}
	byStatus := map[string]int{models.ServerHealthy: 0, models.ServerWarning: 0, models.ServerCritical: 0}
	for _, s := range servers {
		byStatus[s.Status]++
	}

	// ─── Alerts ─────────────────────────────────────────────────────────
	active, err := h.store.GetActiveAlerts(ctx)
	if err != nil {
		return fail(c, err, "Failed to list alerts")
	}
	bySeverity := map[string]int{models.SeverityWarning: 0, models.SeverityCritical: 0}
	for _, a := range active {
		bySeverity[a.Severity]++
	}

	// ─── Remediation (last 24h) ─────────────────────────────────────────
	actions, err := h.store.ListRemediationActions(ctx, store.ActionFilter{Since: h.now().Add(-24 * time.Hour)})
	if err != nil {
		return fail(c, err, "Failed to list remediation actions")
	}
	byAction := map[string]int{}
	for _, a := range actions {
		byAction[a.Status]++
	}
	pendingApprovals, err := h.store.ListApprovalWorkflows(ctx, models.WorkflowPending)
	if err != nil {
		return fail(c, err, "Failed to list workflows")
	}
	escalated, err := h.store.ListApprovalWorkflows(ctx, models.WorkflowEscalated)
	if err != nil {
		return fail(c, err, "Failed to list workflows")
	}

	// ─── Performance ────────────────────────────────────────────────────
	latest, err := h.store.LatestMetrics(ctx)
	if err != nil {
		return fail(c, err, "Failed to load metrics")
	}

	return c.JSON(fiber.Map{
		"servers": fiber.Map{
			"total":     len(servers),
			"by_status": byStatus,
		},
		"alerts": fiber.Map{
			"active":      len(active),
			"by_severity": bySeverity,
		},
		"remediation": fiber.Map{
			"last_24h":          len(actions),
			"by_status":         byAction,
			"pending_approvals": len(pendingApprovals) + len(escalated),
		},
		"performance":    agents.GradePerformance(latest),
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
	})
}

func (h *SystemHandler) LLMUsage(c *fiber.Ctx) error {
	usage := h.usage.Snapshot()
	var calls, failures, tokens int64
	for _, u := range usage {
		calls += u.Calls
		failures += u.Failures
		tokens += u.PromptTokens + u.CompletionTokens
	}
	return c.JSON(fiber.Map{
		"capabilities": usage,
		"total_calls":  calls,
		"failures":     failures,
		"total_tokens": tokens,
	})
}
