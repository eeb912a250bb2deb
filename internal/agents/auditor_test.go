package agents

import (
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradePerformance(t *testing.T) {
	cases := []struct {
		name    string
		samples []models.Metric
		score   int
		status  string
	}{
		{"empty fleet", nil, 100, PerformanceOptimal},
		{"quiet", []models.Metric{{CPUUsage: 30, MemoryUsage: 40, DiskUsage: 50, NetworkLatency: 20}}, 100, PerformanceOptimal},
		{"warm cpu", []models.Metric{{CPUUsage: 65}}, 90, PerformanceOptimal},
		{"warm cpu and memory", []models.Metric{{CPUUsage: 65, MemoryUsage: 75}}, 80, PerformanceAcceptable},
		{"hot cpu", []models.Metric{{CPUUsage: 85, MemoryUsage: 75}}, 65, PerformanceDegraded},
		{"averaged", []models.Metric{{CPUUsage: 100}, {CPUUsage: 70}}, 75, PerformanceAcceptable},
		{"everything hot", []models.Metric{{CPUUsage: 90, MemoryUsage: 90, DiskUsage: 90, NetworkLatency: 250}}, 10, PerformanceCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pa := GradePerformance(tc.samples)
			assert.Equal(t, tc.score, pa.Score)
			assert.Equal(t, tc.status, pa.Status)
			assert.Equal(t, len(tc.samples), pa.Servers)
		})
	}
}

func TestComplianceReportCountsTrailingDay(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	add := func(actionType, status, mode string) {
		require.NoError(t, f.store.CreateRemediationAction(f.ctx, &models.RemediationAction{
			ServerID: server.ID, ActionType: actionType, Status: status, ApprovalMode: mode,
		}))
	}

	add("restart_service", models.ActionCompleted, models.ApprovalModeWorkflow)
	f.advance(25 * time.Hour)
	add("cleanup_files", models.ActionCompleted, models.ApprovalModeAuto)
	add("clear_cache", models.ActionCompleted, models.ApprovalModeAuto)
	add("restart_service", models.ActionCompleted, models.ApprovalModeWorkflow)
	add("optimize_cpu", models.ActionFailed, models.ApprovalModeWorkflow)
	add("optimize_memory", models.ActionRejected, "")
	add("log_rotation", models.ActionPending, "")

	a := NewAuditor(f.deps(t), AuditorOptions{Interval: time.Hour})
	rep, err := a.ComplianceReport(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Total)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 1, rep.Pending)
	assert.Equal(t, 2, rep.AutoApproved)
	assert.Equal(t, 2, rep.ManualApproved)
	assert.Equal(t, 0.5, rep.AutoRatio)
	assert.Equal(t, 0.75, rep.SuccessRate)

	require.NotNil(t, rep.Insights)
	assert.Equal(t, "compliant", rep.Insights.ComplianceStatus)
	assert.Equal(t, "6 actions in the last 24h: 3 succeeded, 1 failed, 1 rejected, 1 pending", rep.Insights.Summary)
	assert.Contains(t, rep.Insights.KeyFindings, "50% of approvals were automatic")
	assert.Equal(t, 1, f.auditCount(t, audit.ComplianceReport))
	assert.Contains(t, f.drain(), events.ComplianceReport)
}

func TestAuditorCycleWritesEveryReport(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	require.NoError(t, f.store.UpdateServerStatus(f.ctx, server.ID, models.ServerCritical))
	f.metric(t, server.ID, 92, 88, 40)

	a := NewAuditor(f.deps(t), AuditorOptions{Interval: time.Hour})
	require.NoError(t, a.RunOnce(f.ctx))

	assert.Equal(t, 1, f.auditCount(t, audit.HealthSnapshot))
	assert.Equal(t, 1, f.auditCount(t, audit.ComplianceReport))
	assert.Equal(t, 1, f.auditCount(t, audit.PerformanceAssessment))
	assert.EqualValues(t, 3, a.Status().Processed)

	snap, err := a.Snapshot(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Servers)
	assert.Equal(t, 1, snap.ServersBy[models.ServerCritical])

	logs, _, err := f.store.ListAuditLogs(f.ctx, store.AuditFilter{Action: audit.PerformanceAssessment})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditWarning, logs[0].Status)
	assert.Contains(t, logs[0].Details, "degraded")
}
