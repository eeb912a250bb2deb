package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const RemediatorID = "remediation-executor"

// ActionRunner executes one approved action. The executor satisfies it.
type ActionRunner interface {
	ExecuteAction(ctx context.Context, p *policy.Policy, action models.RemediationAction, defaultTimeout time.Duration) (*executor.Execution, error)
}

type RemediatorOptions struct {
	Interval       time.Duration
	MaxConcurrent  int
	DefaultTimeout time.Duration
	Runner         ActionRunner
}

// Remediator executes approved actions with bounded concurrency. There is no
// automatic retry; a failed action stays failed.
type Remediator struct {
	*runner
	deps  Deps
	opts  RemediatorOptions
	audit *audit.Recorder
}

func NewRemediator(deps Deps, opts RemediatorOptions) *Remediator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	r := &Remediator{deps: deps.withDefaults(), opts: opts}
	r.audit = r.deps.recorder()
	r.runner = newRunner(RemediatorID, "Remediation Executor", "remediator", opts.Interval, r.remediate)
	return r
}

func (r *Remediator) remediate(ctx context.Context) error {
	approved, err := r.deps.Store.ListRemediationActions(ctx, store.ActionFilter{Statuses: []string{models.ActionApproved}})
	if err != nil {
		return fmt.Errorf("list approved actions: %w", err)
	}
	if len(approved) == 0 {
		return nil
	}
	p := r.deps.Policy.Current()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)
	for i := range approved {
		action := approved[i]
		g.Go(func() error {
			if r.execute(gctx, p, action) {
				r.addProcessed(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// execute claims the action and runs it. It reports whether the action was
// claimed by this cycle.
func (r *Remediator) execute(ctx context.Context, p *policy.Policy, action models.RemediationAction) bool {
	start := r.deps.Now()
	err := r.deps.Store.UpdateRemediationStatus(ctx, action.ID, models.ActionApproved, models.ActionExecuting, store.ActionUpdate{
		ExecutedAt: &start,
	})
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Error("Failed to claim action", "action_id", action.ID, "error", err)
		r.addError(err)
		return false
	}
	action.Status = models.ActionExecuting
	r.publish(action, models.ActionExecuting, nil)
	r.audit.Record(ctx, audit.Entry{
		AgentID:  RemediatorID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.RemediationStarted,
		Details:  action.Title,
		Status:   models.AuditPending,
		Metadata: map[string]interface{}{"action_id": action.ID.String(), "action_type": action.ActionType},
	})

	run, execErr := r.opts.Runner.ExecuteAction(ctx, p, action, r.opts.DefaultTimeout)
	done := r.deps.Now()
	if execErr != nil {
		r.fail(ctx, action, run, execErr, done)
		return true
	}
	r.complete(ctx, action, run, done)
	return true
}

func (r *Remediator) fail(ctx context.Context, action models.RemediationAction, run *executor.Execution, execErr error, at time.Time) {
	update := store.ActionUpdate{ErrorMessage: execErr.Error(), CompletedAt: &at}
	meta := map[string]interface{}{
		"action_id":   action.ID.String(),
		"action_type": action.ActionType,
		"error":       execErr.Error(),
	}
	if run != nil {
		meta["command"] = run.Command.Script
		if run.Result != nil {
			code := run.Result.ExitCode
			update.ExitCode = &code
			update.Output = run.Result.Output()
			meta["exit_code"] = code
		}
		if len(run.Checks) > 0 {
			meta["safety_checks"] = run.Checks
		}
	}
	if err := r.deps.Store.UpdateRemediationStatus(ctx, action.ID, models.ActionExecuting, models.ActionFailed, update); err != nil {
		slog.Error("Failed to record action failure", "action_id", action.ID, "error", err)
		r.addError(err)
	}

	slog.Warn("Remediation failed", "action_id", action.ID, "action_type", action.ActionType, "error", execErr)
	metrics.ObserveRemediation(action.ActionType, metrics.OutcomeError)
	r.audit.Record(ctx, audit.Entry{
		AgentID:  RemediatorID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.RemediationFailed,
		Details:  fmt.Sprintf("%s failed: %v", action.Title, execErr),
		Status:   models.AuditFailed,
		Metadata: meta,
	})
	r.publish(action, models.ActionFailed, map[string]interface{}{"error": execErr.Error()})
}

func (r *Remediator) complete(ctx context.Context, action models.RemediationAction, run *executor.Execution, at time.Time) {
	code := run.Result.ExitCode
	output := run.Result.Output()
	impact := executor.ImpactSummary(output, run.Duration)
	err := r.deps.Store.UpdateRemediationStatus(ctx, action.ID, models.ActionExecuting, models.ActionCompleted, store.ActionUpdate{
		Output:      output,
		ExitCode:    &code,
		Impact:      impact,
		CompletedAt: &at,
	})
	if err != nil {
		slog.Error("Failed to record action completion", "action_id", action.ID, "error", err)
		r.addError(err)
	}

	if action.AlertID != nil {
		if err := r.deps.Store.ResolveAlert(ctx, *action.AlertID, at); err == nil {
			r.deps.Events.Publish(events.AlertResolved, map[string]interface{}{
				"alert_id": *action.AlertID, "server_id": action.ServerID, "reason": "remediated by " + action.ActionType,
			})
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to resolve remediated alert", "alert_id", *action.AlertID, "error", err)
		}
	}

	slog.Info("Remediation completed", "action_id", action.ID, "action_type", action.ActionType,
		"duration", run.Duration, "impact", impact)
	metrics.ObserveRemediation(action.ActionType, metrics.OutcomeSuccess)
	r.audit.Record(ctx, audit.Entry{
		AgentID:  RemediatorID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.RemediationCompleted,
		Details:  action.Title,
		Impact:   impact,
		Metadata: map[string]interface{}{
			"action_id":   action.ID.String(),
			"action_type": action.ActionType,
			"command":     run.Command.Script,
			"exit_code":   code,
			"duration_ms": run.Duration.Milliseconds(),
		},
	})
	r.publish(action, models.ActionCompleted, map[string]interface{}{"impact": impact})
}

func (r *Remediator) publish(action models.RemediationAction, status string, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"action_id": action.ID, "server_id": action.ServerID, "status": status, "action_type": action.ActionType,
	}
	for k, v := range extra {
		payload[k] = v
	}
	r.deps.Events.Publish(events.RemediationStatus, payload)
}

// ErrNotRetryable is returned when retrying an action that has not failed.
var ErrNotRetryable = errors.New("only failed actions can be retried")

// Retry creates a fresh pending copy of a failed action. The copy goes
// through compliance again; the failed action is left untouched.
func (r *Remediator) Retry(ctx context.Context, id uuid.UUID, actor string) (*models.RemediationAction, error) {
	failed, err := r.deps.Store.GetRemediationAction(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != models.ActionFailed {
		return nil, fmt.Errorf("%w: action is %s", ErrNotRetryable, failed.Status)
	}
	retryOf := failed.ID
	retry := &models.RemediationAction{
		AlertID:             failed.AlertID,
		ServerID:            failed.ServerID,
		AgentID:             failed.AgentID,
		Title:               failed.Title,
		Description:         failed.Description,
		ActionType:          failed.ActionType,
		Confidence:          failed.Confidence,
		EstimatedDowntime:   failed.EstimatedDowntime,
		RequiresApproval:    failed.RequiresApproval,
		Parameters:          failed.Parameters,
		Status:              models.ActionPending,
		MaxExecutionSeconds: failed.MaxExecutionSeconds,
		RetryOf:             &retryOf,
	}
	// Compliance scores the stored command, so it must match what will run.
	if err := r.render(retry); err != nil {
		return nil, fmt.Errorf("render retry: %w", err)
	}
	if err := r.deps.Store.CreateRemediationAction(ctx, retry); err != nil {
		return nil, fmt.Errorf("create retry: %w", err)
	}

	slog.Info("Remediation retry queued", "action_id", retry.ID, "retry_of", failed.ID, "actor", actor)
	r.audit.Record(ctx, audit.Entry{
		AgentID:  RemediatorID,
		ServerID: audit.ServerRef(retry.ServerID),
		Action:   audit.RemediationRetried,
		Details:  fmt.Sprintf("%s retried by %s", failed.Title, actor),
		Status:   models.AuditPending,
		Metadata: map[string]interface{}{"action_id": retry.ID.String(), "retry_of": failed.ID.String(), "actor": actor},
	})
	r.deps.Events.Publish(events.RemediationStatus, map[string]interface{}{
		"action_id": retry.ID, "server_id": retry.ServerID, "status": retry.Status, "retry_of": failed.ID,
	})
	return retry, nil
}

// render rebuilds the action's command from the current policy for the OS of
// the server's connection, defaulting to linux.
func (r *Remediator) render(a *models.RemediationAction) error {
	os := models.OSLinux
	if resolver, ok := r.opts.Runner.(OSResolver); ok {
		if got, err := resolver.OSFor(a.ServerID); err == nil {
			os = got
		}
	}
	cmd, err := executor.BuildCommand(r.deps.Policy.Current(), *a, os, r.opts.DefaultTimeout)
	if err != nil {
		return err
	}
	a.Command = cmd.Script
	a.MaxExecutionSeconds = int(cmd.Timeout.Seconds())
	return nil
}
