package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AuditSuccess = "success"
	AuditWarning = "warning"
	AuditFailed  = "failed"
	AuditPending = "pending"
)

// AuditLog is append-only and is the system of record for compliance.
type AuditLog struct {
	ID        uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	AgentID   string            `gorm:"not null;index" json:"agent_id"`
	ServerID  *uuid.UUID        `gorm:"type:uuid;index" json:"server_id"`
	Action    string            `gorm:"not null;index" json:"action"` // alert_created, auto_approved, remediation_completed, ...
	Details   string            `gorm:"type:text" json:"details"`
	Status    string            `gorm:"not null;default:'success'" json:"status"`
	Impact    string            `json:"impact"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}
