package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patterns = []string{"db", "prod", "master", "primary"}

type fixture struct {
	ctx    context.Context
	store  *store.MemoryStore
	hub    *events.Hub
	feed   <-chan events.Event
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: store.NewMemoryStore(), hub: events.NewHub(), now: officeHours}
	feed, cancel := f.hub.Subscribe()
	t.Cleanup(cancel)
	f.feed = feed
	f.engine = NewEngine(f.store, f.hub)
	f.engine.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seed(t *testing.T, hostname, env string) (*models.Server, *models.RemediationAction) {
	t.Helper()
	server := &models.Server{Hostname: hostname, Environment: env}
	require.NoError(t, f.store.CreateServer(f.ctx, server))
	action := &models.RemediationAction{
		ServerID:          server.ID,
		AgentID:           "recommendation-engine",
		Title:             "Restart overloaded service",
		ActionType:        "restart_service",
		Confidence:        90,
		EstimatedDowntime: 2,
		RequiresApproval:  true,
	}
	require.NoError(t, f.store.CreateRemediationAction(f.ctx, action))
	return server, action
}

func (f *fixture) create(t *testing.T, server *models.Server, action *models.RemediationAction) *models.ApprovalWorkflow {
	t.Helper()
	compliance := ComplianceResult{Score: 55}
	risk := ScoreRisk(*action, server, patterns)
	wf, _, err := f.engine.CreateWorkflow(f.ctx, action, server, compliance, risk, patterns)
	require.NoError(t, err)
	return wf
}

func (f *fixture) drain() []string {
	var types []string
	for {
		select {
		case ev := <-f.feed:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func (f *fixture) actionStatus(t *testing.T, action *models.RemediationAction) *models.RemediationAction {
	t.Helper()
	got, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	return got
}

func TestCreateWorkflowHighTier(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "db-prod-01", models.EnvProd)
	wf := f.create(t, server, action)

	detail, err := f.engine.Get(f.ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, detail.Steps, 3)
	assert.Equal(t, 1, detail.Workflow.CurrentStep)
	assert.Equal(t, 3, detail.Workflow.TotalSteps)
	assert.Equal(t, "high", detail.Workflow.Metadata["tier"])

	assert.Equal(t, models.StepImpactAssessment, detail.Steps[0].StepType)
	assert.Equal(t, models.StepStatusInProgress, detail.Steps[0].Status)
	assert.Equal(t, RoleDirector, detail.Steps[2].RequiredRole)
	assert.Equal(t, models.StepStatusPending, detail.Steps[1].Status)
	require.NotNil(t, detail.Steps[0].DueAt)
	assert.Equal(t, officeHours.Add(time.Hour), *detail.Steps[0].DueAt)

	_, _, err = f.engine.CreateWorkflow(f.ctx, action, server, ComplianceResult{}, Risk{}, patterns)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, []string{events.WorkflowCreated}, f.drain())
}

func TestWorkflowApprovesThroughEveryStep(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "db-prod-01", models.EnvProd)
	wf := f.create(t, server, action)
	f.drain()

	detail, err := f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "alice", Role: RoleManager})
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Workflow.CurrentStep)
	assert.Equal(t, models.StepStatusApproved, detail.Steps[0].Status)
	assert.Equal(t, models.StepStatusInProgress, detail.Steps[1].Status)
	assert.Equal(t, models.ActionPending, f.actionStatus(t, action).Status)

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "bob", Role: RoleManager})
	require.ErrorIs(t, err, ErrInsufficientRole)

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "carol", Role: RoleSecurityLead})
	require.NoError(t, err)
	detail, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "dave", Role: RoleDirector, Comments: "go"})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowApproved, detail.Workflow.Status)
	assert.Equal(t, 3, detail.Workflow.CurrentStep)
	assert.LessOrEqual(t, detail.Workflow.CurrentStep, detail.Workflow.TotalSteps)
	require.Len(t, detail.History, 3)
	assert.Equal(t, "dave", detail.History[2].Actor)

	approved := f.actionStatus(t, action)
	assert.Equal(t, models.ActionApproved, approved.Status)
	assert.Equal(t, models.ApprovalModeWorkflow, approved.ApprovalMode)
	assert.Equal(t, "dave", approved.ApprovedBy)
	assert.Equal(t, 55, approved.ComplianceScore)

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "eve", Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrWorkflowClosed)

	assert.Equal(t, []string{
		events.WorkflowStepCompleted,
		events.WorkflowStepCompleted,
		events.WorkflowStepCompleted,
		events.WorkflowApproved,
		events.RemediationStatus,
	}, f.drain())

	logs, _, err := f.store.ListAuditLogs(f.ctx, store.AuditFilter{Action: "workflow_approved"})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestWorkflowRejectTerminates(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "app-01", models.EnvDev)
	action.Confidence = 95
	wf := f.create(t, server, action)
	require.Equal(t, 1, wf.TotalSteps)

	detail, err := f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionReject, Actor: "sam", Role: RoleSupervisor, Comments: "not now"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowRejected, detail.Workflow.Status)
	assert.Equal(t, models.StepStatusRejected, detail.Steps[0].Status)

	rejected := f.actionStatus(t, action)
	assert.Equal(t, models.ActionRejected, rejected.Status)
	assert.Contains(t, rejected.ErrorMessage, "not now")

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionEscalate, Actor: "sam", Role: RoleSupervisor})
	assert.ErrorIs(t, err, ErrWorkflowClosed)
}

func TestWorkflowEscalationKeepsActionPending(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "app-01", models.EnvDev)
	action.Confidence = 95
	wf := f.create(t, server, action)

	detail, err := f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionEscalate, Actor: "sam", Role: RoleSupervisor})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowEscalated, detail.Workflow.Status)
	assert.Equal(t, models.StepStatusEscalated, detail.Steps[0].Status)
	assert.Equal(t, RoleManager, detail.Steps[0].RequiredRole)
	assert.Equal(t, models.ActionPending, f.actionStatus(t, action).Status)

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "sam", Role: RoleSupervisor})
	require.ErrorIs(t, err, ErrInsufficientRole)

	detail, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionApprove, Actor: "mia", Role: RoleManager})
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowApproved, detail.Workflow.Status)
	assert.Equal(t, models.ActionApproved, f.actionStatus(t, action).Status)
	assert.Len(t, detail.History, 2)
}

func TestProcessDecisionValidation(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "app-01", models.EnvDev)
	wf := f.create(t, server, action)

	_, err := f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: "maybe", Actor: "x", Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = f.engine.ProcessDecision(f.ctx, wf.ID, Decision{Decision: models.DecisionEscalate, Actor: "x", Role: "intern"})
	assert.ErrorIs(t, err, ErrInsufficientRole)

	_, err = f.engine.ProcessDecision(f.ctx, action.ID, Decision{Decision: models.DecisionApprove, Actor: "x", Role: RoleAdmin})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEscalateOverdue(t *testing.T) {
	f := newFixture(t)
	server, action := f.seed(t, "app-01", models.EnvDev)
	action.Confidence = 95
	wf := f.create(t, server, action)

	n, err := f.engine.EscalateOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = officeHours.Add(31 * time.Minute)
	n, err = f.engine.EscalateOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	detail, err := f.engine.Get(f.ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowEscalated, detail.Workflow.Status)
	require.Len(t, detail.History, 1)
	assert.Equal(t, "system", detail.History[0].Actor)

	n, err = f.engine.EscalateOverdue(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "escalated workflows are not escalated again")
}
