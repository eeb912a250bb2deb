package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
)

const CollectorID = "telemetry-collector"

// Sampler reads current utilisation from one server.
type Sampler interface {
	Sample(ctx context.Context, server models.Server) (*models.Metric, error)
}

type CollectorOptions struct {
	Interval time.Duration
	Sampler  Sampler
}

// Collector persists one sample per server per cycle, preferring samples
// pushed through Ingest over polling.
type Collector struct {
	*runner
	deps    Deps
	sampler Sampler

	mu      sync.Mutex
	pending map[uuid.UUID]models.Metric
}

func NewCollector(deps Deps, opts CollectorOptions) *Collector {
	c := &Collector{
		deps:    deps.withDefaults(),
		sampler: opts.Sampler,
		pending: make(map[uuid.UUID]models.Metric),
	}
	if c.sampler == nil {
		c.sampler = NewSyntheticSampler(time.Now().UnixNano())
	}
	c.runner = newRunner(CollectorID, "Telemetry Collector", "collector", opts.Interval, c.collect)
	return c
}

// Ingest queues a pushed sample for the next cycle. A newer sample for the
// same server replaces an older one.
func (c *Collector) Ingest(m models.Metric) error {
	if m.ServerID == uuid.Nil {
		return errors.New("server_id is required")
	}
	for _, v := range []float64{m.CPUUsage, m.MemoryUsage, m.DiskUsage} {
		if v < 0 || v > 100 {
			return fmt.Errorf("usage %.2f out of range 0-100", v)
		}
	}
	c.mu.Lock()
	c.pending[m.ServerID] = m
	c.mu.Unlock()
	return nil
}

func (c *Collector) takePending(id uuid.UUID) (models.Metric, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return m, ok
}

func (c *Collector) collect(ctx context.Context) error {
	servers, err := c.deps.Store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	collected := 0
	for _, server := range servers {
		metric, ok := c.takePending(server.ID)
		if !ok {
			sampled, err := c.sampler.Sample(ctx, server)
			if err != nil {
				slog.Warn("Failed to sample server", "server", server.Hostname, "error", err)
				c.addError(err)
				continue
			}
			metric = *sampled
		}
		metric.ID = uuid.Nil
		metric.ServerID = server.ID
		if metric.Timestamp.IsZero() {
			metric.Timestamp = c.deps.Now()
		}
		if err := c.deps.Store.CreateMetric(ctx, &metric); err != nil {
			slog.Error("Failed to save metric", "server", server.Hostname, "error", err)
			c.addError(err)
			continue
		}

		status := ServerStatus(metric)
		if status != server.Status {
			if err := c.deps.Store.UpdateServerStatus(ctx, server.ID, status); err != nil {
				slog.Error("Failed to update server status", "server", server.Hostname, "error", err)
			} else {
				slog.Info("Server status changed", "server", server.Hostname, "from", server.Status, "to", status)
			}
		}
		collected++
	}
	c.addProcessed(collected)

	latest, err := c.deps.Store.LatestMetrics(ctx)
	if err != nil {
		return fmt.Errorf("latest metrics: %w", err)
	}
	c.deps.Events.Publish(events.MetricsLatest, latest)
	return nil
}

// ServerStatus classifies a sample with the fixed fleet thresholds.
func ServerStatus(m models.Metric) string {
	switch {
	case m.CPUUsage >= 90 || m.MemoryUsage >= 90 || m.DiskUsage >= 85:
		return models.ServerCritical
	case m.CPUUsage >= 75 || m.MemoryUsage >= 80 || m.DiskUsage >= 70:
		return models.ServerWarning
	}
	return models.ServerHealthy
}
