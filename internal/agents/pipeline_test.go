package agents

import (
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalCPUOnProductionDatabaseIsRemediatedThroughWorkflow(t *testing.T) {
	f := newFixture(t)
	deps := f.deps(t)
	server := f.server(t, "db-prod-01", models.EnvProd)
	spy := &spyTransport{stdout: "restarted"}
	exec := newSpyExecutor(t, spy, server.ID)
	engine := newTestEngine(f)

	collector := NewCollector(deps, CollectorOptions{Interval: 30 * time.Second, Sampler: NewSyntheticSampler(1)})
	detector := NewDetector(deps, DetectorOptions{Interval: time.Minute, GlobalCap: 8, PerServerCap: 2, AlertTTL: 24 * time.Hour})
	recommender := NewRecommender(deps, RecommenderOptions{
		Interval: time.Minute, MinInterval: 10 * time.Minute, CacheTTL: 30 * time.Minute,
		DailyCap: 50, DefaultMaxExecution: 5 * time.Minute, OS: exec,
	})
	approval := NewApproval(deps, ApprovalOptions{Interval: 30 * time.Second, Engine: engine})
	remediator := NewRemediator(deps, RemediatorOptions{
		Interval: 30 * time.Second, MaxConcurrent: 2, DefaultTimeout: time.Minute, Runner: exec,
	})

	require.NoError(t, collector.Ingest(models.Metric{ServerID: server.ID, CPUUsage: 96, MemoryUsage: 40, DiskUsage: 30}))
	require.NoError(t, collector.RunOnce(f.ctx))
	got, err := f.store.GetServer(f.ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServerCritical, got.Status)

	require.NoError(t, detector.RunOnce(f.ctx))
	alerts := f.activeAlerts(t)
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, models.MetricCPU, alert.MetricType)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, 90.0, alert.Threshold)

	require.NoError(t, recommender.RunOnce(f.ctx))
	pending := f.actions(t, models.ActionPending)
	require.Len(t, pending, 1)
	action := pending[0]
	assert.Equal(t, "restart_service", action.ActionType)
	assert.Equal(t, 90.0, action.Confidence)
	assert.Equal(t, "systemctl restart nginx", action.Command)
	require.NotNil(t, action.AlertID)
	assert.Equal(t, alert.ID, *action.AlertID)

	require.NoError(t, approval.RunOnce(f.ctx))
	wf, err := f.store.GetWorkflowByAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, wf.TotalSteps)
	assert.EqualValues(t, 55, wf.Metadata["compliance_score"])
	assert.Equal(t, 1, f.auditCount(t, audit.ComplianceFailed))

	// A second review never re-scores an action that already has a workflow.
	require.NoError(t, approval.RunOnce(f.ctx))
	assert.Equal(t, 1, f.auditCount(t, audit.WorkflowCreated))

	for _, role := range []string{workflow.RoleManager, workflow.RoleSecurityLead, workflow.RoleDirector} {
		_, err := engine.ProcessDecision(f.ctx, wf.ID, workflow.Decision{
			Decision: models.DecisionApprove, Actor: role + "-on-call", Role: role,
		})
		require.NoError(t, err)
	}
	require.Len(t, f.actions(t, models.ActionApproved), 1)
	f.drain()

	require.NoError(t, remediator.RunOnce(f.ctx))
	assert.Equal(t, []string{"systemctl cat nginx", "systemctl restart nginx"}, spy.seen())

	done, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCompleted, done.Status)
	assert.Equal(t, models.ApprovalModeWorkflow, done.ApprovalMode)
	assert.Equal(t, 55, done.ComplianceScore)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)
	assert.Contains(t, done.Impact, "completed in")
	assert.Empty(t, f.activeAlerts(t))

	types := f.drain()
	assert.Contains(t, types, events.AlertResolved)
	assert.Equal(t, 1, f.auditCount(t, audit.RemediationCompleted))
}

func TestAutoApprovedActionSkipsWorkflow(t *testing.T) {
	f := newFixture(t)
	deps := f.deps(t)
	server := f.server(t, "web-07", models.EnvDev)
	spy := &spyTransport{stdout: "freed 2048KB"}
	exec := newSpyExecutor(t, spy, server.ID)

	action := &models.RemediationAction{
		ServerID:          server.ID,
		AgentID:           RecommenderID,
		Title:             "Clean up stale temporary files",
		ActionType:        "cleanup_files",
		Confidence:        92,
		EstimatedDowntime: 0,
		Status:            models.ActionPending,
	}
	require.NoError(t, f.store.CreateRemediationAction(f.ctx, action))

	approval := NewApproval(deps, ApprovalOptions{Interval: time.Second, Engine: newTestEngine(f)})
	require.NoError(t, approval.RunOnce(f.ctx))

	approved, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionApproved, approved.Status)
	assert.Equal(t, models.ApprovalModeAuto, approved.ApprovalMode)
	assert.Equal(t, 100, approved.ComplianceScore)
	workflows, err := f.store.ListApprovalWorkflows(f.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, workflows)

	remediator := NewRemediator(deps, RemediatorOptions{Interval: time.Second, MaxConcurrent: 1, DefaultTimeout: time.Minute, Runner: exec})
	require.NoError(t, remediator.RunOnce(f.ctx))
	done, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCompleted, done.Status)
	assert.Equal(t, "freed 2.0 MB", done.Impact)
}

func TestNewPipelineRegistersEveryAgent(t *testing.T) {
	f := newFixture(t)
	cfg := config.Load()
	p, err := NewPipeline(cfg, f.deps(t), newSpyExecutor(t, &spyTransport{}))
	require.NoError(t, err)

	var ids []string
	for _, st := range p.Manager.Statuses() {
		ids = append(ids, st.ID)
		assert.Equal(t, models.AgentInactive, st.State)
	}
	assert.ElementsMatch(t, []string{CollectorID, DetectorID, RecommenderID, ApprovalID, RemediatorID, AuditorID}, ids)
	assert.Same(t, p.Engine, p.Approval.Engine())
}
