// Package audit writes the append-only trail every component reports to.
package audit

import (
	"context"
	"log/slog"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Action names written to AuditLog.Action.
const (
	AlertCreated          = "alert_created"
	AlertResolved         = "alert_resolved"
	BreakerTripped        = "circuit_breaker_tripped"
	ActionRecommended     = "remediation_recommended"
	ComplianceFailed      = "compliance_failed"
	AutoApproved          = "auto_approved"
	WorkflowCreated       = "workflow_created"
	WorkflowApproved      = "workflow_approved"
	WorkflowRejected      = "workflow_rejected"
	WorkflowEscalated     = "workflow_escalated"
	RemediationStarted    = "remediation_started"
	RemediationCompleted  = "remediation_completed"
	RemediationFailed     = "remediation_failed"
	RemediationRetried    = "remediation_retried"
	HealthSnapshot        = "health_snapshot"
	ComplianceReport      = "compliance_report"
	PerformanceAssessment = "performance_assessment"
	ConnectionRegistered  = "connection_registered"
	ConnectionRemoved     = "connection_removed"
	AgentStateChanged     = "agent_state_changed"
	PolicyReloaded        = "policy_reloaded"
)

// Writer is the one storage operation the recorder needs.
type Writer interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type Entry struct {
	AgentID  string
	ServerID *uuid.UUID
	Action   string
	Details  string
	Status   string
	Impact   string
	Metadata map[string]interface{}
}

type Recorder struct {
	w Writer
}

func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// Record persists an entry. A failed write is logged and dropped.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.Status == "" {
		e.Status = models.AuditSuccess
	}
	row := models.AuditLog{
		AgentID:  e.AgentID,
		ServerID: e.ServerID,
		Action:   e.Action,
		Details:  e.Details,
		Status:   e.Status,
		Impact:   e.Impact,
	}
	if e.Metadata != nil {
		row.Metadata = datatypes.JSONMap(e.Metadata)
	}
	if err := r.w.CreateAuditLog(ctx, &row); err != nil {
		slog.Error("Failed to write audit log", "action", e.Action, "agent", e.AgentID, "error", err)
	}
}

// ServerRef returns a pointer suitable for Entry.ServerID.
func ServerRef(id uuid.UUID) *uuid.UUID {
	return &id
}
