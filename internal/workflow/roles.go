package workflow

import (
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
)

const (
	RoleSupervisor        = "supervisor"
	RoleManager           = "manager"
	RoleComplianceOfficer = "compliance_officer"
	RoleSecurityLead      = "security_lead"
	RoleDirector          = "director"
	RoleAdmin             = "admin"
	// RoleSystem may only escalate.
	RoleSystem = "system"
)

var roleRank = map[string]int{
	RoleSupervisor:        1,
	RoleManager:           2,
	RoleComplianceOfficer: 2,
	RoleSecurityLead:      3,
	RoleDirector:          4,
	RoleAdmin:             5,
}

// RoleRank returns 0 for unknown roles.
func RoleRank(role string) int { return roleRank[role] }

// CanDecide reports whether role meets the step's required role.
func CanDecide(role, required string) bool {
	r := RoleRank(role)
	return r > 0 && r >= RoleRank(required)
}

// escalationTarget is the role a step moves to when escalated.
func escalationTarget(role string) string {
	switch role {
	case RoleSupervisor:
		return RoleManager
	case RoleManager, RoleComplianceOfficer, RoleSecurityLead:
		return RoleDirector
	}
	return RoleAdmin
}

type StepTemplate struct {
	Type         string
	Role         string
	Timeout      time.Duration
	AutoEscalate bool
}

var tiers = map[string][]StepTemplate{
	TierHigh: {
		{Type: models.StepImpactAssessment, Role: RoleManager, Timeout: time.Hour, AutoEscalate: true},
		{Type: models.StepSecurityReview, Role: RoleSecurityLead, Timeout: 2 * time.Hour, AutoEscalate: true},
		{Type: models.StepChangeBoard, Role: RoleDirector, Timeout: 4 * time.Hour, AutoEscalate: false},
	},
	TierMedium: {
		{Type: models.StepComplianceCheck, Role: RoleComplianceOfficer, Timeout: time.Hour, AutoEscalate: true},
		{Type: models.StepBasicApproval, Role: RoleManager, Timeout: 2 * time.Hour, AutoEscalate: true},
	},
	TierLow: {
		{Type: models.StepBasicApproval, Role: RoleSupervisor, Timeout: 30 * time.Minute, AutoEscalate: true},
	},
}

// Steps returns a copy of the step templates for a tier.
func Steps(tier string) []StepTemplate {
	return append([]StepTemplate(nil), tiers[tier]...)
}
