// Package agents holds the pipeline's independent workers and the manager
// that supervises them. Each agent owns a fixed-period timer and shares
// nothing with the others except storage and the event feed.
package agents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
)

// ErrCycleSkipped marks a cycle a gate declined to run.
var ErrCycleSkipped = errors.New("cycle skipped")

type Agent interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Status() Status
}

type Status struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	State         string     `json:"state"`
	Running       bool       `json:"running"`
	Interval      string     `json:"interval"`
	Processed     int64      `json:"processed_count"`
	Errors        int64      `json:"error_count"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	LastError     string     `json:"last_error,omitempty"`
}

// Deps are the collaborators every agent shares.
type Deps struct {
	Store  store.Store
	Policy policy.Source
	Events events.Publisher
	AI     ai.Inference
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.AI == nil {
		d.AI = ai.Disabled{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) recorder() *audit.Recorder { return audit.NewRecorder(d.Store) }

// tripBreaker reports a circuit-breaker activation everywhere an operator
// might look for it.
func tripBreaker(ctx context.Context, d Deps, rec *audit.Recorder, agentID, breaker, details string, meta map[string]interface{}) {
	slog.Warn("Circuit breaker tripped", "agent", agentID, "breaker", breaker, "details", details)
	metrics.BreakerTripped(breaker)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["breaker"] = breaker
	rec.Record(ctx, audit.Entry{
		AgentID:  agentID,
		Action:   audit.BreakerTripped,
		Details:  details,
		Status:   models.AuditWarning,
		Metadata: meta,
	})
	d.Events.Publish(events.CircuitBreakerTripped, map[string]interface{}{
		"agent": agentID, "breaker": breaker, "details": details,
	})
}
