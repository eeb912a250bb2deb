package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ActionPending   = "pending"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionExecuting = "executing"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
)

const (
	ApprovalModeAuto     = "auto"
	ApprovalModeWorkflow = "workflow"
)

// ErrInvalidTransition is returned when a status change would skip or reverse
// the pending → approved|rejected → executing → completed|failed order.
var ErrInvalidTransition = errors.New("invalid status transition")

var actionTransitions = map[string][]string{
	ActionPending:   {ActionApproved, ActionRejected},
	ActionApproved:  {ActionExecuting},
	ActionExecuting: {ActionCompleted, ActionFailed},
}

// CanTransition reports whether an action may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range actionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition wraps CanTransition with a descriptive error.
func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminalAction reports whether no further transition is possible.
func IsTerminalAction(status string) bool {
	return status == ActionRejected || status == ActionCompleted || status == ActionFailed
}

// OpenActionStatuses are the statuses that block a new action for the same
// (server, alert) pair.
var OpenActionStatuses = []string{ActionPending, ActionApproved, ActionExecuting}

type RemediationAction struct {
	ID                  uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AlertID             *uuid.UUID        `gorm:"type:uuid;index" json:"alert_id"`
	ServerID            uuid.UUID         `gorm:"type:uuid;not null;index" json:"server_id"`
	AgentID             string            `gorm:"not null" json:"agent_id"`
	Title               string            `gorm:"not null" json:"title"`
	Description         string            `gorm:"type:text" json:"description"`
	ActionType          string            `gorm:"not null" json:"action_type"`
	Confidence          float64           `json:"confidence"`         // 0-100
	EstimatedDowntime   int               `json:"estimated_downtime"` // minutes
	RequiresApproval    bool              `gorm:"default:false" json:"requires_approval"`
	Command             string            `gorm:"type:text" json:"command"`
	Parameters          datatypes.JSONMap `gorm:"type:jsonb" json:"parameters"`
	Status              string            `gorm:"not null;default:'pending';index" json:"status"`
	MaxExecutionSeconds int               `json:"max_execution_seconds"`
	ScheduledAt         *time.Time        `json:"scheduled_at"`
	ApprovalMode        string            `json:"approval_mode"` // auto, workflow
	ApprovedBy          string            `json:"approved_by"`
	ComplianceScore     int               `json:"compliance_score"`
	Output              string            `gorm:"type:text" json:"output"`
	ExitCode            *int              `json:"exit_code"`
	Impact              string            `json:"impact"`
	ErrorMessage        string            `gorm:"type:text" json:"error_message"`
	RetryOf             *uuid.UUID        `gorm:"type:uuid" json:"retry_of"`
	ExecutedAt          *time.Time        `json:"executed_at"`
	CompletedAt         *time.Time        `json:"completed_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// StringParams flattens Parameters into string values for command templating.
func (a *RemediationAction) StringParams() map[string]string {
	out := make(map[string]string, len(a.Parameters))
	for k, v := range a.Parameters {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// SameAlert reports whether the action targets the given alert id (nil = proactive).
func (a *RemediationAction) SameAlert(alertID *uuid.UUID) bool {
	if a.AlertID == nil || alertID == nil {
		return a.AlertID == nil && alertID == nil
	}
	return *a.AlertID == *alertID
}
