package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EnvProd    = "prod"
	EnvStaging = "staging"
	EnvDev     = "dev"
)

const (
	ServerHealthy  = "healthy"
	ServerWarning  = "warning"
	ServerCritical = "critical"
)

const (
	CriticalityLow      = "low"
	CriticalityMedium   = "medium"
	CriticalityHigh     = "high"
	CriticalityCritical = "critical"
)

type Server struct {
	ID          uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Hostname    string                      `gorm:"not null;uniqueIndex" json:"hostname"`
	IPAddress   string                      `json:"ip_address"`
	Environment string                      `gorm:"not null;default:'dev'" json:"environment"` // prod, staging, dev
	Location    string                      `json:"location"`
	Criticality string                      `json:"criticality"` // optional override: low, medium, high, critical
	Tags        datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"tags"`
	Status      string                      `gorm:"not null;default:'healthy'" json:"status"` // healthy, warning, critical
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// NormalizeEnvironment maps common spellings onto prod/staging/dev.
func NormalizeEnvironment(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production", "prd":
		return EnvProd
	case "staging", "stage", "stg":
		return EnvStaging
	default:
		return EnvDev
	}
}

// IsProduction reports whether the server runs in the production environment.
func (s *Server) IsProduction() bool {
	return NormalizeEnvironment(s.Environment) == EnvProd
}

// HasTag reports whether the server carries the tag (case-insensitive).
func (s *Server) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// CriticalityLevel resolves the server's criticality from the explicit field,
// then tags, then hostname patterns.
func (s *Server) CriticalityLevel(criticalPatterns []string) string {
	switch strings.ToLower(s.Criticality) {
	case CriticalityLow, CriticalityMedium, CriticalityHigh, CriticalityCritical:
		return strings.ToLower(s.Criticality)
	}
	if s.HasTag("critical") || s.HasTag("criticality:critical") {
		return CriticalityCritical
	}
	if s.HasTag("high") || s.HasTag("criticality:high") {
		return CriticalityHigh
	}
	host := strings.ToLower(s.Hostname)
	for _, p := range criticalPatterns {
		if p != "" && strings.Contains(host, strings.ToLower(p)) {
			return CriticalityCritical
		}
	}
	if s.IsProduction() {
		return CriticalityMedium
	}
	return CriticalityLow
}
