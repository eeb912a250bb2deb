package store

import (
	"context"
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedServer(t *testing.T, s *MemoryStore, hostname string) models.Server {
	t.Helper()
	server := models.Server{Hostname: hostname, Environment: models.EnvProd}
	require.NoError(t, s.CreateServer(context.Background(), &server))
	return server
}

func TestMemoryStoreServerHostnameUnique(t *testing.T) {
	s := NewMemoryStore()
	seedServer(t, s, "web-01")

	err := s.CreateServer(context.Background(), &models.Server{Hostname: "web-01"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryStoreSingleActiveAlertPerMetric(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	server := seedServer(t, s, "web-01")

	first := models.Alert{ServerID: server.ID, MetricType: models.MetricCPU, Title: "cpu"}
	require.NoError(t, s.CreateAlert(ctx, &first))

	dup := models.Alert{ServerID: server.ID, MetricType: models.MetricCPU, Title: "cpu again"}
	assert.ErrorIs(t, s.CreateAlert(ctx, &dup), ErrDuplicate)

	other := models.Alert{ServerID: server.ID, MetricType: models.MetricDisk, Title: "disk"}
	require.NoError(t, s.CreateAlert(ctx, &other))

	require.NoError(t, s.ResolveAlert(ctx, first.ID, time.Now()))
	again := models.Alert{ServerID: server.ID, MetricType: models.MetricCPU, Title: "cpu"}
	require.NoError(t, s.CreateAlert(ctx, &again))

	n, err := s.CountActiveAlertsForServer(ctx, server.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	assert.ErrorIs(t, s.ResolveAlert(ctx, first.ID, time.Now()), ErrNotFound)
}

func TestMemoryStoreOpenActionUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	server := seedServer(t, s, "web-01")
	alertID := uuid.New()

	first := models.RemediationAction{ServerID: server.ID, AlertID: &alertID, ActionType: "restart_service", Title: "restart"}
	require.NoError(t, s.CreateRemediationAction(ctx, &first))

	second := models.RemediationAction{ServerID: server.ID, AlertID: &alertID, ActionType: "optimize_cpu", Title: "renice"}
	assert.ErrorIs(t, s.CreateRemediationAction(ctx, &second), ErrDuplicate)

	proactive := models.RemediationAction{ServerID: server.ID, ActionType: "cleanup_files", Title: "cleanup"}
	require.NoError(t, s.CreateRemediationAction(ctx, &proactive))
	otherProactive := models.RemediationAction{ServerID: server.ID, ActionType: "log_rotation", Title: "rotate"}
	require.NoError(t, s.CreateRemediationAction(ctx, &otherProactive))
	dupProactive := models.RemediationAction{ServerID: server.ID, ActionType: "cleanup_files", Title: "cleanup"}
	assert.ErrorIs(t, s.CreateRemediationAction(ctx, &dupProactive), ErrDuplicate)

	found, err := s.FindOpenAction(ctx, server.ID, &alertID, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	require.NoError(t, s.UpdateRemediationStatus(ctx, first.ID, models.ActionPending, models.ActionRejected, ActionUpdate{}))
	_, err = s.FindOpenAction(ctx, server.ID, &alertID, "")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.CreateRemediationAction(ctx, &second))
}

func TestMemoryStoreStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	server := seedServer(t, s, "web-01")
	action := models.RemediationAction{ServerID: server.ID, ActionType: "clear_cache", Title: "cache"}
	require.NoError(t, s.CreateRemediationAction(ctx, &action))

	err := s.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionExecuting, ActionUpdate{})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	score := 90
	require.NoError(t, s.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionApproved, ActionUpdate{
		ApprovalMode:    models.ApprovalModeAuto,
		ApprovedBy:      "approval-agent",
		ComplianceScore: &score,
	}))

	err = s.UpdateRemediationStatus(ctx, action.ID, models.ActionPending, models.ActionApproved, ActionUpdate{})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetRemediationAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionApproved, got.Status)
	assert.Equal(t, 90, got.ComplianceScore)
	assert.Equal(t, models.ApprovalModeAuto, got.ApprovalMode)

	assert.ErrorIs(t, s.UpdateRemediationStatus(ctx, uuid.New(), models.ActionApproved, models.ActionExecuting, ActionUpdate{}), ErrNotFound)
}

func TestMemoryStoreWorkflowPerActionUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	actionID := uuid.New()

	wf := models.ApprovalWorkflow{RemediationActionID: actionID, TotalSteps: 2, CurrentStep: 1}
	steps := []models.WorkflowStep{
		{StepNumber: 2, StepType: models.StepBasicApproval, RequiredRole: "manager"},
		{StepNumber: 1, StepType: models.StepComplianceCheck, RequiredRole: "compliance_officer"},
	}
	require.NoError(t, s.CreateApprovalWorkflow(ctx, &wf, steps))
	assert.ErrorIs(t, s.CreateApprovalWorkflow(ctx, &models.ApprovalWorkflow{RemediationActionID: actionID}, nil), ErrDuplicate)

	listed, err := s.ListWorkflowSteps(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].StepNumber)
	assert.Equal(t, wf.ID, listed[0].WorkflowID)

	byAction, err := s.GetWorkflowByAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, byAction.ID)
}

func TestMemoryStoreAuditPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateAuditLog(ctx, &models.AuditLog{AgentID: "auditor", Action: "health_check"}))
	}
	require.NoError(t, s.CreateAuditLog(ctx, &models.AuditLog{AgentID: "remediator", Action: "remediation_completed"}))

	logs, total, err := s.ListAuditLogs(ctx, AuditFilter{AgentID: "auditor", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, logs, 2)

	logs, total, err = s.ListAuditLogs(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)
	assert.Equal(t, "remediation_completed", logs[0].Action)
}

func TestMemoryStoreLatestMetrics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := seedServer(t, s, "a")
	b := seedServer(t, s, "b")
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.CreateMetric(ctx, &models.Metric{ServerID: a.ID, CPUUsage: 10, Timestamp: base}))
	require.NoError(t, s.CreateMetric(ctx, &models.Metric{ServerID: a.ID, CPUUsage: 20, Timestamp: base.Add(time.Minute)}))
	require.NoError(t, s.CreateMetric(ctx, &models.Metric{ServerID: b.ID, CPUUsage: 30, Timestamp: base}))

	latest, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	byServer := map[uuid.UUID]float64{}
	for _, m := range latest {
		byServer[m.ServerID] = m.CPUUsage
	}
	assert.Equal(t, 20.0, byServer[a.ID])
	assert.Equal(t, 30.0, byServer[b.ID])

	recent, err := s.RecentMetrics(ctx, a.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 20.0, recent[0].CPUUsage)
}
