package handlers

import (
	"context"

	"github.com/ahmetk3436/autoremedy/internal/agents"
	"github.com/gofiber/fiber/v2"
)

type AgentHandler struct {
	manager *agents.Manager
}

func NewAgentHandler(manager *agents.Manager) *AgentHandler {
	return &AgentHandler{manager: manager}
}

func (h *AgentHandler) ListAgents(c *fiber.Ctx) error {
	statuses := h.manager.Statuses()
	return c.JSON(fiber.Map{"agents": statuses, "total": len(statuses)})
}

func (h *AgentHandler) GetAgent(c *fiber.Ctx) error {
	st, err := h.manager.GetStatus(c.Params("id"))
	if err != nil {
		return fail(c, err, "Failed to load agent")
	}
	return c.JSON(st)
}

func (h *AgentHandler) StartAgent(c *fiber.Ctx) error {
	return h.control(c, h.manager.StartAgent)
}

func (h *AgentHandler) StopAgent(c *fiber.Ctx) error {
	return h.control(c, h.manager.StopAgent)
}

func (h *AgentHandler) PauseAgent(c *fiber.Ctx) error {
	return h.control(c, h.manager.PauseAgent)
}

type controlFunc func(ctx context.Context, id, actor string) (agents.Status, error)

func (h *AgentHandler) control(c *fiber.Ctx, fn controlFunc) error {
	username, _, _ := actor(c)
	st, err := fn(c.UserContext(), c.Params("id"), username)
	if err != nil {
		return fail(c, err, "Failed to change agent state")
	}
	return c.JSON(st)
}
