package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	AlertActive   = "active"
	AlertResolved = "resolved"
)

// SeverityRank orders severities so the higher one wins on merge.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// Alert is an actionable, deduplicated signal. At most one active alert exists
// per (server_id, metric_type); the database enforces it with a partial unique
// index created in database.Migrate.
type Alert struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ServerID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"server_id"`
	AgentID     string     `gorm:"not null" json:"agent_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	MetricType  string     `gorm:"not null" json:"metric_type"`
	Severity    string     `gorm:"not null;default:'warning'" json:"severity"` // warning, critical
	MetricValue float64    `json:"metric_value"`
	Threshold   float64    `json:"threshold"`
	Status      string     `gorm:"not null;default:'active';index" json:"status"` // active, resolved
	ResolvedAt  *time.Time `json:"resolved_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
