package handlers

import (
	"fmt"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/gofiber/fiber/v2"
)

// ConnectionAgentID is the audit identity for operator connection changes.
const ConnectionAgentID = "operator-api"

type ConnectionHandler struct {
	store    store.Store
	registry *executor.Registry
	audit    *audit.Recorder
}

func NewConnectionHandler(st store.Store, registry *executor.Registry) *ConnectionHandler {
	return &ConnectionHandler{store: st, registry: registry, audit: audit.NewRecorder(st)}
}

// ListConnections returns every registration with credentials blanked.
func (h *ConnectionHandler) ListConnections(c *fiber.Ctx) error {
	conns := h.registry.List()
	out := make([]executor.Connection, len(conns))
	for i, conn := range conns {
		out[i] = conn.Redacted()
	}
	return c.JSON(fiber.Map{"connections": out, "total": len(out)})
}

// RegisterConnection adds or replaces the connection for an existing server.
func (h *ConnectionHandler) RegisterConnection(c *fiber.Ctx) error {
	var conn executor.Connection
	if err := c.BodyParser(&conn); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ctx := c.UserContext()
	server, err := h.store.GetServer(ctx, conn.ServerID)
	if err != nil {
		return fail(c, err, "Failed to load server")
	}
	if err := h.registry.Register(ctx, conn); err != nil {
		return fail(c, err, "Failed to register connection")
	}

	username, _, _ := actor(c)
	h.audit.Record(ctx, audit.Entry{
		AgentID:  ConnectionAgentID,
		ServerID: audit.ServerRef(server.ID),
		Action:   audit.ConnectionRegistered,
		Details:  fmt.Sprintf("%s connection registered for %s by %s", conn.Type, server.Hostname, username),
		Metadata: map[string]interface{}{"type": conn.Type, "actor": username},
	})

	registered, _ := h.registry.Get(server.ID)
	return c.Status(fiber.StatusCreated).JSON(registered.Redacted())
}

func (h *ConnectionHandler) RemoveConnection(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid server ID")
	}
	ctx := c.UserContext()
	if err := h.registry.Remove(ctx, id); err != nil {
		return fail(c, err, "Failed to remove connection")
	}

	username, _, _ := actor(c)
	h.audit.Record(ctx, audit.Entry{
		AgentID:  ConnectionAgentID,
		ServerID: audit.ServerRef(id),
		Action:   audit.ConnectionRemoved,
		Details:  "connection removed by " + username,
		Status:   models.AuditSuccess,
		Metadata: map[string]interface{}{"actor": username},
	})
	return c.JSON(fiber.Map{"message": "Connection removed"})
}
