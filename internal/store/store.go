// Package store defines the storage contract used by every agent, with a
// gorm-backed implementation for postgres and an in-memory implementation for
// tests and single-process development runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write:
	// a second active alert for (server, metric) or a second open action for
	// (server, alert).
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when a compare-and-set status update finds the
	// row no longer in the expected status.
	ErrConflict = errors.New("conflict")
)

type AlertFilter struct {
	Status   string
	ServerID *uuid.UUID
	Limit    int
}

type ActionFilter struct {
	Statuses []string
	ServerID *uuid.UUID
	Since    time.Time
	Limit    int
}

type AuditFilter struct {
	AgentID string
	Action  string
	Since   time.Time
	Limit   int
	Offset  int
}

// ActionUpdate carries the optional fields written alongside a status change.
type ActionUpdate struct {
	ApprovalMode    string
	ApprovedBy      string
	ComplianceScore *int
	Output          string
	ExitCode        *int
	Impact          string
	ErrorMessage    string
	ExecutedAt      *time.Time
	CompletedAt     *time.Time
}

// Store is the per-entity CRUD contract. Implementations must be
// consistent-on-read-after-write for a single caller.
type Store interface {
	CreateServer(ctx context.Context, server *models.Server) error
	GetServer(ctx context.Context, id uuid.UUID) (*models.Server, error)
	ListServers(ctx context.Context) ([]models.Server, error)
	UpdateServerStatus(ctx context.Context, id uuid.UUID, status string) error

	CreateMetric(ctx context.Context, metric *models.Metric) error
	ListMetricsSince(ctx context.Context, since time.Time) ([]models.Metric, error)
	// RecentMetrics returns up to limit samples for a server, newest first.
	RecentMetrics(ctx context.Context, serverID uuid.UUID, limit int) ([]models.Metric, error)
	LatestMetric(ctx context.Context, serverID uuid.UUID) (*models.Metric, error)
	// LatestMetrics returns the newest sample of every server.
	LatestMetrics(ctx context.Context) ([]models.Metric, error)

	CreateAnomaly(ctx context.Context, anomaly *models.Anomaly) error

	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	GetActiveAlerts(ctx context.Context) ([]models.Alert, error)
	FindActiveAlert(ctx context.Context, serverID uuid.UUID, metricType string) (*models.Alert, error)
	CountActiveAlerts(ctx context.Context) (int64, error)
	CountActiveAlertsForServer(ctx context.Context, serverID uuid.UUID) (int64, error)
	UpdateAlert(ctx context.Context, id uuid.UUID, severity string, value, threshold float64) error
	ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateRemediationAction(ctx context.Context, action *models.RemediationAction) error
	GetRemediationAction(ctx context.Context, id uuid.UUID) (*models.RemediationAction, error)
	ListRemediationActions(ctx context.Context, filter ActionFilter) ([]models.RemediationAction, error)
	// FindOpenAction returns the non-terminal action for (server, alert); a nil
	// alertID targets proactive actions of the given type.
	FindOpenAction(ctx context.Context, serverID uuid.UUID, alertID *uuid.UUID, actionType string) (*models.RemediationAction, error)
	// UpdateRemediationStatus moves an action from one status to another,
	// enforcing models.CanTransition and failing with ErrConflict when the row
	// is no longer in the from status.
	UpdateRemediationStatus(ctx context.Context, id uuid.UUID, from, to string, update ActionUpdate) error

	CreateApprovalWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow, steps []models.WorkflowStep) error
	GetApprovalWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	GetWorkflowByAction(ctx context.Context, actionID uuid.UUID) (*models.ApprovalWorkflow, error)
	ListApprovalWorkflows(ctx context.Context, status string) ([]models.ApprovalWorkflow, error)
	UpdateApprovalWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error
	ListWorkflowSteps(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowStep, error)
	UpdateWorkflowStepStatus(ctx context.Context, step *models.WorkflowStep) error
	AppendApprovalHistory(ctx context.Context, entry *models.ApprovalHistory) error
	ListApprovalHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalHistory, error)

	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int64, error)

	SaveServerConnection(ctx context.Context, conn *models.ServerConnection) error
	DeleteServerConnection(ctx context.Context, serverID uuid.UUID) error
	ListServerConnections(ctx context.Context) ([]models.ServerConnection, error)

	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	ListAgents(ctx context.Context) ([]models.Agent, error)
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
