package handlers

import (
	"context"
	"strings"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Retrier queues a fresh attempt of a failed action.
type Retrier interface {
	Retry(ctx context.Context, id uuid.UUID, actor string) (*models.RemediationAction, error)
}

var actionStatuses = map[string]bool{
	models.ActionPending:   true,
	models.ActionApproved:  true,
	models.ActionRejected:  true,
	models.ActionExecuting: true,
	models.ActionCompleted: true,
	models.ActionFailed:    true,
}

type RemediationHandler struct {
	store store.Store
	retry Retrier
}

func NewRemediationHandler(st store.Store, retry Retrier) *RemediationHandler {
	return &RemediationHandler{store: st, retry: retry}
}

// ListActions filters by ?status=, which accepts a comma-separated list such
// as pending,approved.
func (h *RemediationHandler) ListActions(c *fiber.Ctx) error {
	filter := store.ActionFilter{Limit: queryLimit(c, 100, 500)}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if !actionStatuses[s] {
				return badRequest(c, "Invalid status: "+s)
			}
			filter.Statuses = append(filter.Statuses, s)
		}
	}
	if raw := c.Query("server_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "Invalid server ID")
		}
		filter.ServerID = &id
	}

	actions, err := h.store.ListRemediationActions(c.UserContext(), filter)
	if err != nil {
		return fail(c, err, "Failed to list remediation actions")
	}
	return c.JSON(fiber.Map{"actions": actions, "total": len(actions)})
}

func (h *RemediationHandler) GetAction(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid action ID")
	}
	action, err := h.store.GetRemediationAction(c.UserContext(), id)
	if err != nil {
		return fail(c, err, "Failed to load remediation action")
	}
	return c.JSON(action)
}

func (h *RemediationHandler) Retry(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid action ID")
	}
	username, _, _ := actor(c)
	retry, err := h.retry.Retry(c.UserContext(), id, username)
	if err != nil {
		return fail(c, err, "Failed to retry remediation action")
	}
	return c.Status(fiber.StatusCreated).JSON(retry)
}
