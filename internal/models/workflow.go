package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	WorkflowPending   = "pending"
	WorkflowApproved  = "approved"
	WorkflowRejected  = "rejected"
	WorkflowEscalated = "escalated"
)

const (
	StepBasicApproval    = "basic_approval"
	StepComplianceCheck  = "compliance_check"
	StepImpactAssessment = "impact_assessment"
	StepSecurityReview   = "security_review"
	StepChangeBoard      = "change_board"
)

const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusApproved   = "approved"
	StepStatusRejected   = "rejected"
	StepStatusEscalated  = "escalated"
)

const (
	DecisionApprove  = "approve"
	DecisionReject   = "reject"
	DecisionEscalate = "escalate"
)

// IsClosedWorkflow reports whether the workflow no longer accepts decisions.
func IsClosedWorkflow(status string) bool {
	return status == WorkflowApproved || status == WorkflowRejected
}

type ApprovalWorkflow struct {
	ID                  uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RemediationActionID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex" json:"remediation_action_id"`
	RiskScore           int               `json:"risk_score"`
	RiskLevel           string            `json:"risk_level"` // low, medium, high
	RequiredApprovals   int               `json:"required_approvals"`
	CurrentStep         int               `json:"current_step"`
	TotalSteps          int               `json:"total_steps"`
	Status              string            `gorm:"not null;default:'pending';index" json:"status"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CompletedAt         *time.Time        `json:"completed_at"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

type WorkflowStep struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkflowID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_workflow_step,priority:1" json:"workflow_id"`
	StepNumber     int        `gorm:"not null;uniqueIndex:idx_workflow_step,priority:2" json:"step_number"`
	StepType       string     `gorm:"not null" json:"step_type"`
	RequiredRole   string     `gorm:"not null" json:"required_role"`
	Status         string     `gorm:"not null;default:'pending'" json:"status"`
	AssignedTo     string     `json:"assigned_to"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	AutoEscalate   bool       `json:"auto_escalate"`
	DueAt          *time.Time `json:"due_at"`
	DecidedBy      string     `json:"decided_by"`
	DecidedAt      *time.Time `json:"decided_at"`
	Comments       string     `gorm:"type:text" json:"comments"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ApprovalHistory is an immutable log entry per step decision.
type ApprovalHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkflowID uuid.UUID `gorm:"type:uuid;not null;index" json:"workflow_id"`
	StepNumber int       `json:"step_number"`
	Decision   string    `gorm:"not null" json:"decision"` // approve, reject, escalate
	Actor      string    `gorm:"not null" json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Comments   string    `gorm:"type:text" json:"comments"`
	CreatedAt  time.Time `json:"created_at"`
}
