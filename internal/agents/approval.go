package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
)

const ApprovalID = "compliance-agent"

type ApprovalOptions struct {
	Interval time.Duration
	Engine   *workflow.Engine
}

// Approval scores every pending action once. Actions that qualify are
// auto-approved; the rest are handed to exactly one approval workflow.
type Approval struct {
	*runner
	deps   Deps
	engine *workflow.Engine
	audit  *audit.Recorder
}

func NewApproval(deps Deps, opts ApprovalOptions) *Approval {
	a := &Approval{deps: deps.withDefaults(), engine: opts.Engine}
	a.audit = a.deps.recorder()
	if a.engine == nil {
		a.engine = workflow.NewEngine(a.deps.Store, a.deps.Events)
		a.engine.SetClock(a.deps.Now)
	}
	a.runner = newRunner(ApprovalID, "Compliance Agent", "approval", opts.Interval, a.review)
	return a
}

// Engine returns the workflow engine decisions are submitted to.
func (a *Approval) Engine() *workflow.Engine { return a.engine }

func (a *Approval) review(ctx context.Context) error {
	p := a.deps.Policy.Current()
	pending, err := a.deps.Store.ListRemediationActions(ctx, store.ActionFilter{Statuses: []string{models.ActionPending}})
	if err != nil {
		return fmt.Errorf("list pending actions: %w", err)
	}

	handled := 0
	for i := range pending {
		action := pending[i]
		if _, err := a.deps.Store.GetWorkflowByAction(ctx, action.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to look up workflow", "action_id", action.ID, "error", err)
			a.addError(err)
			continue
		}
		if err := a.route(ctx, p, &action); err != nil {
			slog.Error("Failed to route action", "action_id", action.ID, "error", err)
			a.addError(err)
			continue
		}
		handled++
	}

	if n, err := a.engine.EscalateOverdue(ctx); err != nil {
		slog.Error("Failed to escalate overdue workflows", "error", err)
		a.addError(err)
	} else if n > 0 {
		slog.Info("Escalated overdue workflows", "count", n)
		handled += n
	}
	a.addProcessed(handled)
	return nil
}

func (a *Approval) route(ctx context.Context, p *policy.Policy, action *models.RemediationAction) error {
	server, err := a.deps.Store.GetServer(ctx, action.ServerID)
	if err != nil {
		return fmt.Errorf("get server: %w", err)
	}
	result := workflow.EvaluateCompliance(p.Compliance, *action, server, a.deps.Now())

	if result.AutoApprove {
		return a.autoApprove(ctx, action, result)
	}

	if !result.Passed {
		a.audit.Record(ctx, audit.Entry{
			AgentID:  ApprovalID,
			ServerID: audit.ServerRef(action.ServerID),
			Action:   audit.ComplianceFailed,
			Details:  fmt.Sprintf("%s scored %d, below %d", action.Title, result.Score, p.Compliance.PassScore),
			Status:   models.AuditWarning,
			Metadata: map[string]interface{}{
				"action_id":  action.ID.String(),
				"score":      result.Score,
				"violations": result.Violations,
			},
		})
	}

	risk := workflow.ScoreRisk(*action, server, p.Compliance.CriticalHostPatterns)
	if res, err := a.deps.AI.AssessRisk(ctx, ai.RiskRequest{Action: *action, Server: *server}); err == nil {
		risk = risk.Blend(res)
	} else if !errors.Is(err, ai.ErrUnavailable) {
		slog.Warn("Risk inference failed, using heuristic score", "action_id", action.ID, "error", err)
	}

	_, _, err = a.engine.CreateWorkflow(ctx, action, server, result, risk, p.Compliance.CriticalHostPatterns)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

func (a *Approval) autoApprove(ctx context.Context, action *models.RemediationAction, result workflow.ComplianceResult) error {
	score := result.Score
	err := a.deps.Store.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionApproved, store.ActionUpdate{
		ApprovalMode:    models.ApprovalModeAuto,
		ApprovedBy:      ApprovalID,
		ComplianceScore: &score,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auto-approve: %w", err)
	}

	slog.Info("Action auto-approved", "action_id", action.ID, "action_type", action.ActionType, "score", score)
	a.audit.Record(ctx, audit.Entry{
		AgentID:  ApprovalID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.AutoApproved,
		Details:  fmt.Sprintf("%s auto-approved with compliance score %d", action.Title, score),
		Metadata: map[string]interface{}{
			"action_id":  action.ID.String(),
			"score":      score,
			"violations": result.Violations,
		},
	})
	a.deps.Events.Publish(events.RemediationStatus, map[string]interface{}{
		"action_id": action.ID, "server_id": action.ServerID, "status": models.ActionApproved,
		"approval_mode": models.ApprovalModeAuto, "compliance_score": score,
	})
	return nil
}
