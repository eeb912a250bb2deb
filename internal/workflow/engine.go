package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/lock"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const AgentID = "workflow-engine"

var (
	ErrWorkflowClosed   = errors.New("workflow no longer accepts decisions")
	ErrInsufficientRole = errors.New("role cannot decide this step")
	ErrInvalidDecision  = errors.New("decision must be approve, reject or escalate")
)

type Decision struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject escalate"`
	Actor    string `json:"actor"`
	Role     string `json:"role"`
	Comments string `json:"comments"`
}

// Detail is a workflow with its ordered steps and history.
type Detail struct {
	Workflow models.ApprovalWorkflow  `json:"workflow"`
	Steps    []models.WorkflowStep    `json:"steps"`
	History  []models.ApprovalHistory `json:"history"`
}

type Engine struct {
	store  store.Store
	events events.Publisher
	audit  *audit.Recorder
	locks  *lock.Keyed
	now    func() time.Time
}

func NewEngine(st store.Store, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Engine{
		store:  st,
		events: pub,
		audit:  audit.NewRecorder(st),
		locks:  lock.NewKeyed(),
		now:    time.Now,
	}
}

// SetClock replaces the engine's time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CreateWorkflow routes an action that was not auto-approved into the tier
// its risk calls for. The first step becomes current immediately.
func (e *Engine) CreateWorkflow(ctx context.Context, action *models.RemediationAction, server *models.Server, compliance ComplianceResult, risk Risk, criticalPatterns []string) (*models.ApprovalWorkflow, []models.WorkflowStep, error) {
	if action.Status != models.ActionPending {
		return nil, nil, fmt.Errorf("%w: action is %s", models.ErrInvalidTransition, action.Status)
	}
	tier := SelectTier(risk, server, criticalPatterns)
	templates := Steps(tier)
	now := e.now()

	wf := &models.ApprovalWorkflow{
		RemediationActionID: action.ID,
		RiskScore:           risk.Score,
		RiskLevel:           risk.Level,
		RequiredApprovals:   len(templates),
		CurrentStep:         1,
		TotalSteps:          len(templates),
		Status:              models.WorkflowPending,
		Metadata: datatypes.JSONMap{
			"tier":              tier,
			"compliance_score":  compliance.Score,
			"compliance_passed": compliance.Passed,
			"violations":        compliance.Violations,
			"risk_factors":      risk.Factors,
			"risk_source":       risk.Source,
			"mitigation_steps":  risk.MitigationSteps,
			"impact_assessment": impactAssessment(action, server),
			"justification":     action.Description,
		},
	}

	steps := make([]models.WorkflowStep, len(templates))
	for i, tpl := range templates {
		steps[i] = models.WorkflowStep{
			StepNumber:     i + 1,
			StepType:       tpl.Type,
			RequiredRole:   tpl.Role,
			Status:         models.StepStatusPending,
			TimeoutMinutes: int(tpl.Timeout.Minutes()),
			AutoEscalate:   tpl.AutoEscalate,
		}
	}
	activate(&steps[0], now)

	if err := e.store.CreateApprovalWorkflow(ctx, wf, steps); err != nil {
		return nil, nil, fmt.Errorf("create workflow: %w", err)
	}

	slog.Info("Approval workflow created", "workflow_id", wf.ID, "action_id", action.ID,
		"tier", tier, "risk_score", risk.Score, "steps", len(steps))
	e.audit.Record(ctx, audit.Entry{
		AgentID:  AgentID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.WorkflowCreated,
		Details:  fmt.Sprintf("%s routed to %s-risk workflow with %d steps", action.Title, tier, len(steps)),
		Status:   models.AuditPending,
		Metadata: map[string]interface{}{
			"workflow_id":      wf.ID.String(),
			"action_id":        action.ID.String(),
			"risk_score":       risk.Score,
			"compliance_score": compliance.Score,
		},
	})
	e.events.Publish(events.WorkflowCreated, Detail{Workflow: *wf, Steps: steps})
	return wf, steps, nil
}

// ProcessDecision applies one decision to the workflow's current step. It is
// the only way a workflow, and the action behind it, changes state.
func (e *Engine) ProcessDecision(ctx context.Context, workflowID uuid.UUID, d Decision) (*Detail, error) {
	switch d.Decision {
	case models.DecisionApprove, models.DecisionReject, models.DecisionEscalate:
	default:
		return nil, ErrInvalidDecision
	}
	unlock := e.locks.Lock(workflowID.String())
	defer unlock()

	wf, err := e.store.GetApprovalWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if models.IsClosedWorkflow(wf.Status) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowClosed, wf.Status)
	}
	steps, err := e.store.ListWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.CurrentStep < 1 || wf.CurrentStep > len(steps) {
		return nil, fmt.Errorf("workflow %s current step %d out of range", workflowID, wf.CurrentStep)
	}
	step := steps[wf.CurrentStep-1]

	if d.Decision == models.DecisionEscalate {
		if d.Role != RoleSystem && RoleRank(d.Role) == 0 {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInsufficientRole, d.Role)
		}
	} else if !CanDecide(d.Role, step.RequiredRole) {
		return nil, fmt.Errorf("%w: %s requires %s, got %q", ErrInsufficientRole, step.StepType, step.RequiredRole, d.Role)
	}

	action, err := e.store.GetRemediationAction(ctx, wf.RemediationActionID)
	if err != nil {
		return nil, fmt.Errorf("load action: %w", err)
	}

	now := e.now()
	switch d.Decision {
	case models.DecisionApprove:
		err = e.approve(ctx, wf, steps, action, d, now)
	case models.DecisionReject:
		err = e.reject(ctx, wf, &steps[wf.CurrentStep-1], action, d, now)
	case models.DecisionEscalate:
		err = e.escalate(ctx, wf, &steps[wf.CurrentStep-1], action, d, now)
	}
	if err != nil {
		return nil, err
	}

	entry := &models.ApprovalHistory{
		WorkflowID: wf.ID,
		StepNumber: step.StepNumber,
		Decision:   d.Decision,
		Actor:      d.Actor,
		ActorRole:  d.Role,
		Comments:   d.Comments,
	}
	if err := e.store.AppendApprovalHistory(ctx, entry); err != nil {
		slog.Error("Failed to append approval history", "workflow_id", wf.ID, "error", err)
	}
	return e.Get(ctx, wf.ID)
}

func (e *Engine) approve(ctx context.Context, wf *models.ApprovalWorkflow, steps []models.WorkflowStep, action *models.RemediationAction, d Decision, now time.Time) error {
	current := &steps[wf.CurrentStep-1]
	final := wf.CurrentStep == wf.TotalSteps

	if final {
		score := complianceScore(wf)
		if err := e.store.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionApproved, store.ActionUpdate{
			ApprovalMode:    models.ApprovalModeWorkflow,
			ApprovedBy:      d.Actor,
			ComplianceScore: &score,
		}); err != nil {
			return fmt.Errorf("approve action: %w", err)
		}
	}

	decide(current, models.StepStatusApproved, d, now)
	if err := e.store.UpdateWorkflowStepStatus(ctx, current); err != nil {
		return fmt.Errorf("update step: %w", err)
	}

	if final {
		wf.Status = models.WorkflowApproved
		wf.CompletedAt = &now
	} else {
		wf.Status = models.WorkflowPending
		wf.CurrentStep++
		next := &steps[wf.CurrentStep-1]
		activate(next, now)
		if err := e.store.UpdateWorkflowStepStatus(ctx, next); err != nil {
			return fmt.Errorf("activate step: %w", err)
		}
	}
	if err := e.store.UpdateApprovalWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}

	payload := map[string]interface{}{
		"workflow_id": wf.ID, "action_id": action.ID, "step": current.StepNumber,
		"step_type": current.StepType, "actor": d.Actor, "current_step": wf.CurrentStep,
	}
	e.events.Publish(events.WorkflowStepCompleted, payload)
	if !final {
		return nil
	}

	slog.Info("Workflow approved", "workflow_id", wf.ID, "action_id", action.ID, "approved_by", d.Actor)
	e.audit.Record(ctx, audit.Entry{
		AgentID:  AgentID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.WorkflowApproved,
		Details:  fmt.Sprintf("%s approved after %d steps, final approver %s", action.Title, wf.TotalSteps, d.Actor),
		Metadata: map[string]interface{}{"workflow_id": wf.ID.String(), "action_id": action.ID.String()},
	})
	e.events.Publish(events.WorkflowApproved, payload)
	e.events.Publish(events.RemediationStatus, map[string]interface{}{
		"action_id": action.ID, "server_id": action.ServerID, "status": models.ActionApproved,
	})
	return nil
}

func (e *Engine) reject(ctx context.Context, wf *models.ApprovalWorkflow, step *models.WorkflowStep, action *models.RemediationAction, d Decision, now time.Time) error {
	reason := fmt.Sprintf("rejected at %s by %s", step.StepType, d.Actor)
	if d.Comments != "" {
		reason += ": " + d.Comments
	}
	if err := e.store.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionRejected, store.ActionUpdate{
		ApprovalMode: models.ApprovalModeWorkflow,
		ErrorMessage: reason,
		CompletedAt:  &now,
	}); err != nil {
		return fmt.Errorf("reject action: %w", err)
	}

	decide(step, models.StepStatusRejected, d, now)
	if err := e.store.UpdateWorkflowStepStatus(ctx, step); err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	wf.Status = models.WorkflowRejected
	wf.CompletedAt = &now
	if err := e.store.UpdateApprovalWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}

	slog.Info("Workflow rejected", "workflow_id", wf.ID, "action_id", action.ID, "actor", d.Actor)
	e.audit.Record(ctx, audit.Entry{
		AgentID:  AgentID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.WorkflowRejected,
		Details:  action.Title + " " + reason,
		Status:   models.AuditFailed,
		Metadata: map[string]interface{}{"workflow_id": wf.ID.String(), "action_id": action.ID.String()},
	})
	e.events.Publish(events.WorkflowRejected, map[string]interface{}{
		"workflow_id": wf.ID, "action_id": action.ID, "step": step.StepNumber, "actor": d.Actor,
	})
	e.events.Publish(events.RemediationStatus, map[string]interface{}{
		"action_id": action.ID, "server_id": action.ServerID, "status": models.ActionRejected,
	})
	return nil
}

// escalate parks the workflow and hands the current step to a higher role.
// The action stays pending.
func (e *Engine) escalate(ctx context.Context, wf *models.ApprovalWorkflow, step *models.WorkflowStep, action *models.RemediationAction, d Decision, now time.Time) error {
	from := step.RequiredRole
	step.Status = models.StepStatusEscalated
	step.RequiredRole = escalationTarget(from)
	step.Comments = d.Comments
	due := now.Add(time.Duration(step.TimeoutMinutes) * time.Minute)
	step.DueAt = &due
	if err := e.store.UpdateWorkflowStepStatus(ctx, step); err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	wf.Status = models.WorkflowEscalated
	if err := e.store.UpdateApprovalWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}

	slog.Warn("Workflow escalated", "workflow_id", wf.ID, "step", step.StepNumber, "from", from, "to", step.RequiredRole)
	e.audit.Record(ctx, audit.Entry{
		AgentID:  AgentID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.WorkflowEscalated,
		Details:  fmt.Sprintf("%s escalated from %s to %s by %s", step.StepType, from, step.RequiredRole, d.Actor),
		Status:   models.AuditWarning,
		Metadata: map[string]interface{}{"workflow_id": wf.ID.String(), "action_id": action.ID.String()},
	})
	e.events.Publish(events.WorkflowEscalated, map[string]interface{}{
		"workflow_id": wf.ID, "action_id": action.ID, "step": step.StepNumber,
		"required_role": step.RequiredRole, "actor": d.Actor,
	})
	return nil
}

// EscalateOverdue escalates every pending workflow whose current step is past
// due and allows auto-escalation. Returns how many were escalated.
func (e *Engine) EscalateOverdue(ctx context.Context) (int, error) {
	pending, err := e.store.ListApprovalWorkflows(ctx, models.WorkflowPending)
	if err != nil {
		return 0, err
	}
	now := e.now()
	escalated := 0
	for _, wf := range pending {
		steps, err := e.store.ListWorkflowSteps(ctx, wf.ID)
		if err != nil || wf.CurrentStep < 1 || wf.CurrentStep > len(steps) {
			continue
		}
		step := steps[wf.CurrentStep-1]
		if !step.AutoEscalate || step.DueAt == nil || now.Before(*step.DueAt) {
			continue
		}
		_, err = e.ProcessDecision(ctx, wf.ID, Decision{
			Decision: models.DecisionEscalate,
			Actor:    "system",
			Role:     RoleSystem,
			Comments: fmt.Sprintf("step %s overdue since %s", step.StepType, step.DueAt.UTC().Format(time.RFC3339)),
		})
		if err != nil {
			slog.Warn("Failed to escalate overdue workflow", "workflow_id", wf.ID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, nil
}

func (e *Engine) Get(ctx context.Context, workflowID uuid.UUID) (*Detail, error) {
	wf, err := e.store.GetApprovalWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ListWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.ListApprovalHistory(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return &Detail{Workflow: *wf, Steps: steps, History: history}, nil
}

func activate(step *models.WorkflowStep, now time.Time) {
	step.Status = models.StepStatusInProgress
	due := now.Add(time.Duration(step.TimeoutMinutes) * time.Minute)
	step.DueAt = &due
}

func decide(step *models.WorkflowStep, status string, d Decision, now time.Time) {
	step.Status = status
	step.DecidedBy = d.Actor
	step.DecidedAt = &now
	step.Comments = d.Comments
}

func complianceScore(wf *models.ApprovalWorkflow) int {
	switch v := wf.Metadata["compliance_score"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func impactAssessment(action *models.RemediationAction, server *models.Server) map[string]interface{} {
	out := map[string]interface{}{
		"action_type":        action.ActionType,
		"estimated_downtime": action.EstimatedDowntime,
		"confidence":         action.Confidence,
	}
	if server != nil {
		out["hostname"] = server.Hostname
		out["environment"] = server.Environment
	}
	return out
}
