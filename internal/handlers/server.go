package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Ingester accepts pushed telemetry for the next collection cycle.
type Ingester interface {
	Ingest(m models.Metric) error
}

type ServerHandler struct {
	store    store.Store
	ingest   Ingester
	validate *validator.Validate
}

func NewServerHandler(st store.Store, ingest Ingester) *ServerHandler {
	return &ServerHandler{store: st, ingest: ingest, validate: validator.New()}
}

func (h *ServerHandler) ListServers(c *fiber.Ctx) error {
	servers, err := h.store.ListServers(c.UserContext())
	if err != nil {
		return fail(c, err, "Failed to list servers")
	}
	return c.JSON(fiber.Map{"servers": servers, "total": len(servers)})
}

// GetServer returns a server with its newest sample, if any.
func (h *ServerHandler) GetServer(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid server ID")
	}
	ctx := c.UserContext()
	server, err := h.store.GetServer(ctx, id)
	if err != nil {
		return fail(c, err, "Failed to load server")
	}
	latest, err := h.store.LatestMetric(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fail(c, err, "Failed to load metrics")
	}
	return c.JSON(fiber.Map{"server": server, "latest_metric": latest})
}

func (h *ServerHandler) CreateServer(c *fiber.Ctx) error {
	var req struct {
		Hostname    string   `json:"hostname" validate:"required,hostname_rfc1123"`
		IPAddress   string   `json:"ip_address" validate:"omitempty,ip"`
		Environment string   `json:"environment"`
		Location    string   `json:"location"`
		Criticality string   `json:"criticality" validate:"omitempty,oneof=low medium high critical"`
		Tags        []string `json:"tags"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, describe(err))
	}

	server := &models.Server{
		Hostname:    req.Hostname,
		IPAddress:   req.IPAddress,
		Environment: models.NormalizeEnvironment(req.Environment),
		Location:    req.Location,
		Criticality: req.Criticality,
		Tags:        datatypes.JSONSlice[string](req.Tags),
		Status:      models.ServerHealthy,
	}
	if err := h.store.CreateServer(c.UserContext(), server); err != nil {
		return fail(c, err, "Failed to create server")
	}

	slog.Info("Server registered", "server_id", server.ID, "hostname", server.Hostname, "environment", server.Environment)
	return c.Status(fiber.StatusCreated).JSON(server)
}

// IngestMetrics queues a pushed sample. The server must exist.
func (h *ServerHandler) IngestMetrics(c *fiber.Ctx) error {
	var req struct {
		ServerID          uuid.UUID `json:"server_id"`
		CPUUsage          float64   `json:"cpu_usage"`
		MemoryUsage       float64   `json:"memory_usage"`
		DiskUsage         float64   `json:"disk_usage"`
		NetworkLatency    float64   `json:"network_latency"`
		NetworkThroughput float64   `json:"network_throughput"`
		ProcessCount      int       `json:"process_count"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if _, err := h.store.GetServer(c.UserContext(), req.ServerID); err != nil {
		return fail(c, err, "Failed to load server")
	}

	m := models.Metric{
		ServerID:          req.ServerID,
		CPUUsage:          req.CPUUsage,
		MemoryUsage:       req.MemoryUsage,
		DiskUsage:         req.DiskUsage,
		NetworkLatency:    req.NetworkLatency,
		NetworkThroughput: req.NetworkThroughput,
		ProcessCount:      req.ProcessCount,
	}
	if err := h.ingest.Ingest(m); err != nil {
		return badRequest(c, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Sample queued"})
}

func (h *ServerHandler) ListAlerts(c *fiber.Ctx) error {
	filter := store.AlertFilter{
		Status: c.Query("status"),
		Limit:  queryLimit(c, 100, 500),
	}
	switch filter.Status {
	case "", models.AlertActive, models.AlertResolved:
	default:
		return badRequest(c, "Invalid status. Must be: active, resolved")
	}
	if raw := c.Query("server_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "Invalid server ID")
		}
		filter.ServerID = &id
	}

	alerts, err := h.store.ListAlerts(c.UserContext(), filter)
	if err != nil {
		return fail(c, err, "Failed to list alerts")
	}
	return c.JSON(fiber.Map{"alerts": alerts, "total": len(alerts)})
}

// RecentMetrics returns one server's newest samples, newest first.
func (h *ServerHandler) RecentMetrics(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return badRequest(c, "Invalid server ID")
	}
	samples, err := h.store.RecentMetrics(c.UserContext(), id, queryLimit(c, 60, 1000))
	if err != nil {
		return fail(c, err, "Failed to load metrics")
	}
	return c.JSON(fiber.Map{"metrics": samples, "total": len(samples)})
}

// describe flattens validator errors into one line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return "Invalid " + fe.Field() + ": failed " + fe.Tag()
}
