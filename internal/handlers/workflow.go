package handlers

import (
	"log/slog"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type WorkflowHandler struct {
	store    store.Store
	engine   *workflow.Engine
	validate *validator.Validate
}

func NewWorkflowHandler(st store.Store, engine *workflow.Engine) *WorkflowHandler {
	return &WorkflowHandler{store: st, engine: engine, validate: validator.New()}
}

func (h *WorkflowHandler) ListWorkflows(c *fiber.Ctx) error {
	status := c.Query("status")
	switch status {
	case "", models.WorkflowPending, models.WorkflowEscalated, models.WorkflowApproved, models.WorkflowRejected:
	default:
		return badRequest(c, "Invalid status. Must be: pending, escalated, approved, rejected")
	}
	workflows, err := h.store.ListApprovalWorkflows(c.UserContext(), status)
	if err != nil {
		return fail(c, err, "Failed to list workflows")
	}
	return c.JSON(fiber.Map{"workflows": workflows, "total": len(workflows)})
}

func (h *WorkflowHandler) GetWorkflow(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid workflow ID")
	}
	detail, err := h.engine.Get(c.UserContext(), id)
	if err != nil {
		return fail(c, err, "Failed to load workflow")
	}
	return c.JSON(detail)
}

// Decide applies the operator's decision to the current step. The actor and
// role come from the token, never from the body.
func (h *WorkflowHandler) Decide(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid workflow ID")
	}
	var req struct {
		Decision string `json:"decision"`
		Comments string `json:"comments"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	username, _, role := actor(c)
	d := workflow.Decision{Decision: req.Decision, Actor: username, Role: role, Comments: req.Comments}
	if err := h.validate.Struct(d); err != nil {
		return badRequest(c, workflow.ErrInvalidDecision.Error())
	}

	detail, err := h.engine.ProcessDecision(c.UserContext(), id, d)
	if err != nil {
		return fail(c, err, "Failed to process decision")
	}
	slog.Info("Workflow decision recorded", "workflow_id", id, "decision", d.Decision, "actor", username, "role", role)
	return c.JSON(detail)
}
