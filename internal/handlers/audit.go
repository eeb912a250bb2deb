package handlers

import (
	"strconv"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/gofiber/fiber/v2"
)

type AuditHandler struct {
	store store.Store
}

func NewAuditHandler(st store.Store) *AuditHandler {
	return &AuditHandler{store: st}
}

// ListAuditLogs returns paginated audit logs, filterable by agent, action
// and start time (?since=RFC3339).
func (h *AuditHandler) ListAuditLogs(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	filter := store.AuditFilter{
		AgentID: c.Query("agent_id"),
		Action:  c.Query("action"),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "Invalid since. Must be RFC3339")
		}
		filter.Since = since
	}

	logs, total, err := h.store.ListAuditLogs(c.UserContext(), filter)
	if err != nil {
		return fail(c, err, "Failed to list audit logs")
	}
	return c.JSON(fiber.Map{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
