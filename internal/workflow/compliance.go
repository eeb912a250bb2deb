// Package workflow decides how a pending remediation gets approved: a
// compliance score that may auto-approve it, and otherwise a risk-tiered,
// multi-step approval workflow driven by operator decisions.
package workflow

import (
	"fmt"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
)

const (
	penaltyUnapprovedAction = 30
	penaltyLowConfidence    = 20
	penaltyLongDowntime     = 25
	penaltyCriticalServer   = 15
	penaltyDangerousCommand = 20
	penaltyOutsideHours     = 10
)

type Violation struct {
	Rule    string `json:"rule"`
	Penalty int    `json:"penalty"`
	Detail  string `json:"detail"`
}

type ComplianceResult struct {
	Score       int         `json:"score"`
	Passed      bool        `json:"passed"`
	AutoApprove bool        `json:"auto_approve"`
	Violations  []Violation `json:"violations"`
}

// EvaluateCompliance scores an action from 100 down. The command checked for
// dangerous substrings is the action's rendered command.
func EvaluateCompliance(c policy.Compliance, action models.RemediationAction, server *models.Server, at time.Time) ComplianceResult {
	res := ComplianceResult{Score: 100}
	deduct := func(rule string, penalty int, detail string) {
		res.Score -= penalty
		res.Violations = append(res.Violations, Violation{Rule: rule, Penalty: penalty, Detail: detail})
	}

	if !c.IsApproved(action.ActionType) {
		deduct("unapproved_action", penaltyUnapprovedAction, fmt.Sprintf("%s is not on the approved list", action.ActionType))
	}
	if action.Confidence < c.MinConfidence {
		deduct("low_confidence", penaltyLowConfidence, fmt.Sprintf("confidence %.0f below %.0f", action.Confidence, c.MinConfidence))
	}
	if action.EstimatedDowntime > c.MaxDowntime {
		deduct("long_downtime", penaltyLongDowntime, fmt.Sprintf("downtime %d exceeds %d", action.EstimatedDowntime, c.MaxDowntime))
	}
	if server != nil && server.CriticalityLevel(c.CriticalHostPatterns) == models.CriticalityCritical {
		deduct("critical_server", penaltyCriticalServer, fmt.Sprintf("%s is a critical server", server.Hostname))
	}
	if pattern, ok := c.DangerousMatch(action.Command); ok {
		deduct("dangerous_command", penaltyDangerousCommand, fmt.Sprintf("command contains %q", pattern))
	}
	if when := scheduledAt(action, at); !c.BusinessHours.Contains(when) {
		deduct("outside_business_hours", penaltyOutsideHours, when.UTC().Format(time.RFC3339))
	}
	if res.Score < 0 {
		res.Score = 0
	}

	res.Passed = res.Score >= c.PassScore
	res.AutoApprove = res.Passed &&
		action.Confidence >= c.AutoApprove.MinConfidence &&
		action.EstimatedDowntime <= c.AutoApprove.MaxDowntime &&
		!action.RequiresApproval &&
		c.IsLowRisk(action.ActionType)
	return res
}

func scheduledAt(action models.RemediationAction, now time.Time) time.Time {
	if action.ScheduledAt != nil {
		return *action.ScheduledAt
	}
	return now
}
