package agents

import (
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) approvedAction(t *testing.T, serverID uuid.UUID, alertID *uuid.UUID, actionType string) *models.RemediationAction {
	t.Helper()
	a := &models.RemediationAction{
		AlertID:      alertID,
		ServerID:     serverID,
		AgentID:      RecommenderID,
		Title:        "Run " + actionType,
		ActionType:   actionType,
		Confidence:   90,
		Status:       models.ActionApproved,
		ApprovalMode: models.ApprovalModeWorkflow,
	}
	require.NoError(t, f.store.CreateRemediationAction(f.ctx, a))
	return a
}

func newTestRemediator(t *testing.T, f *fixture, runner ActionRunner) *Remediator {
	t.Helper()
	return NewRemediator(f.deps(t), RemediatorOptions{Interval: time.Second, MaxConcurrent: 2, DefaultTimeout: time.Minute, Runner: runner})
}

func TestRemediatorStopsAtFailedSafetyCheck(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	alert := f.alert(t, server.ID, models.MetricCPU, models.SeverityCritical, 96)
	action := f.approvedAction(t, server.ID, &alert.ID, "restart_service")
	spy := &spyTransport{fail: []string{"systemctl cat"}}

	r := newTestRemediator(t, f, newSpyExecutor(t, spy, server.ID))
	require.NoError(t, r.RunOnce(f.ctx))

	assert.Equal(t, []string{"systemctl cat nginx"}, spy.seen(), "the mutating command never runs")
	got, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "safety check failed")
	assert.Nil(t, got.ExitCode)
	assert.NotNil(t, got.ExecutedAt)
	assert.Len(t, f.activeAlerts(t), 1)
	assert.Equal(t, 1, f.auditCount(t, audit.RemediationFailed))
}

func TestRemediatorRecordsNonZeroExit(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	action := f.approvedAction(t, server.ID, nil, "restart_service")
	spy := &spyTransport{fail: []string{"systemctl restart"}}

	r := newTestRemediator(t, f, newSpyExecutor(t, spy, server.ID))
	require.NoError(t, r.RunOnce(f.ctx))

	got, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 1, *got.ExitCode)
	assert.Equal(t, "boom", got.Output)
}

func TestRemediatorFailsWithoutConnection(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "orphan-01", models.EnvProd)
	action := f.approvedAction(t, server.ID, nil, "cleanup_files")

	r := newTestRemediator(t, f, newSpyExecutor(t, &spyTransport{}))
	require.NoError(t, r.RunOnce(f.ctx))

	got, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "no connection registered")
}

func TestRemediatorExecutesEachActionOnce(t *testing.T) {
	f := newFixture(t)
	a := f.server(t, "a-01", models.EnvDev)
	b := f.server(t, "b-01", models.EnvDev)
	f.approvedAction(t, a.ID, nil, "log_rotation")
	f.approvedAction(t, b.ID, nil, "log_rotation")
	spy := &spyTransport{}

	r := newTestRemediator(t, f, newSpyExecutor(t, spy, a.ID, b.ID))
	require.NoError(t, r.RunOnce(f.ctx))
	require.NoError(t, r.RunOnce(f.ctx))

	assert.Len(t, f.actions(t, models.ActionCompleted), 2)
	assert.Len(t, spy.seen(), 4, "one safety check and one command per action")
	assert.EqualValues(t, 2, r.Status().Processed)
}

func TestRetryQueuesPendingCopy(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	alert := f.alert(t, server.ID, models.MetricCPU, models.SeverityCritical, 96)
	action := f.approvedAction(t, server.ID, &alert.ID, "restart_service")
	r := newTestRemediator(t, f, newSpyExecutor(t, &spyTransport{fail: []string{"systemctl restart"}}, server.ID))
	require.NoError(t, r.RunOnce(f.ctx))

	retry, err := r.Retry(f.ctx, action.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.ActionPending, retry.Status)
	require.NotNil(t, retry.RetryOf)
	assert.Equal(t, action.ID, *retry.RetryOf)
	assert.Equal(t, alert.ID, *retry.AlertID)
	assert.Empty(t, retry.ApprovalMode, "the copy is reviewed again")
	assert.Equal(t, 1, f.auditCount(t, audit.RemediationRetried))

	original, err := f.store.GetRemediationAction(f.ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, original.Status)

	_, err = r.Retry(f.ctx, action.ID, "operator")
	assert.ErrorIs(t, err, store.ErrDuplicate, "an open copy already covers the alert")

	_, err = r.Retry(f.ctx, retry.ID, "operator")
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = r.Retry(f.ctx, uuid.New(), "operator")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryRendersCommandFromCurrentPolicy(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	action := &models.RemediationAction{
		ServerID:   server.ID,
		AgentID:    RecommenderID,
		Title:      "Restart legacy",
		ActionType: "restart_service",
		Command:    "systemctl restart legacy",
		Confidence: 90,
		Status:     models.ActionApproved,
	}
	require.NoError(t, f.store.CreateRemediationAction(f.ctx, action))
	r := newTestRemediator(t, f, newSpyExecutor(t, &spyTransport{fail: []string{"systemctl restart"}}, server.ID))
	require.NoError(t, r.RunOnce(f.ctx))

	retry, err := r.Retry(f.ctx, action.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, "systemctl restart nginx", retry.Command)
	assert.Equal(t, 120, retry.MaxExecutionSeconds)

	stored, err := f.store.GetRemediationAction(f.ctx, retry.ID)
	require.NoError(t, err)
	assert.Equal(t, retry.Command, stored.Command)
}
