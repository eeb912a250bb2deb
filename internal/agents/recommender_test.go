package agents

import (
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecommender(t *testing.T, f *fixture, dailyCap int) *Recommender {
	t.Helper()
	return NewRecommender(f.deps(t), RecommenderOptions{
		Interval:            time.Minute,
		MinInterval:         10 * time.Minute,
		CacheTTL:            30 * time.Minute,
		DailyCap:            dailyCap,
		DefaultMaxExecution: 5 * time.Minute,
	})
}

func (f *fixture) alert(t *testing.T, serverID uuid.UUID, metricType, severity string, value float64) *models.Alert {
	t.Helper()
	a := &models.Alert{
		ServerID:    serverID,
		AgentID:     DetectorID,
		Title:       severity + " " + metricType,
		MetricType:  metricType,
		Severity:    severity,
		MetricValue: value,
		Threshold:   90,
	}
	require.NoError(t, f.store.CreateAlert(f.ctx, a))
	return a
}

func (f *fixture) reject(t *testing.T, actionID uuid.UUID) {
	t.Helper()
	require.NoError(t, f.store.UpdateRemediationStatus(f.ctx, actionID, models.ActionPending, models.ActionRejected, store.ActionUpdate{}))
}

func TestRecommenderFallsBackToRuleTable(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	f.alert(t, server.ID, models.MetricDisk, models.SeverityCritical, 93)
	r := newTestRecommender(t, f, 50)

	require.NoError(t, r.RunOnce(f.ctx))
	actions := f.actions(t, models.ActionPending)
	require.Len(t, actions, 1)
	assert.Equal(t, "cleanup_files", actions[0].ActionType)
	assert.Equal(t, 88.0, actions[0].Confidence)
	assert.Contains(t, actions[0].Command, "find /tmp -type f -mtime +7 -delete")
	assert.Equal(t, 300, actions[0].MaxExecutionSeconds)
	assert.EqualValues(t, 1, r.AICalls())
	assert.Equal(t, 1, f.auditCount(t, audit.ActionRecommended))
}

func TestRecommenderPrefersRenderableInferenceAndCachesIt(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	alert := f.alert(t, server.ID, models.MetricCPU, models.SeverityCritical, 96)
	f.ai.recommendations = []ai.Recommendation{
		{Title: "Renice", ActionType: "optimize_cpu", Confidence: 80},
		{Title: "Unknown", ActionType: "summon_operator", Confidence: 99},
		{Title: "Restart api", ActionType: "restart_service", Confidence: 93, Parameters: map[string]interface{}{"service_name": "api"}},
	}
	r := newTestRecommender(t, f, 50)

	require.NoError(t, r.RunOnce(f.ctx))
	actions := f.actions(t, models.ActionPending)
	require.Len(t, actions, 1)
	assert.Equal(t, "restart_service", actions[0].ActionType)
	assert.Equal(t, "systemctl restart api", actions[0].Command)
	assert.Equal(t, 93.0, actions[0].Confidence)

	// The same alert key inside the cache TTL never reaches inference again.
	f.reject(t, actions[0].ID)
	require.NoError(t, f.store.UpdateAlert(f.ctx, alert.ID, models.SeverityCritical, 97, 90))
	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))

	assert.Len(t, f.actions(t, models.ActionPending), 1)
	assert.EqualValues(t, 1, f.ai.recCalls.Load())
}

func TestRecommenderMinimumInterval(t *testing.T) {
	f := newFixture(t)
	r := newTestRecommender(t, f, 50)

	require.NoError(t, r.RunOnce(f.ctx))
	f.advance(5 * time.Minute)
	assert.ErrorIs(t, r.RunOnce(f.ctx), ErrCycleSkipped)
	f.advance(5 * time.Minute)
	assert.NoError(t, r.RunOnce(f.ctx))
}

func TestRecommenderSkipsCoveredAndUnchangedAlerts(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "api-01", models.EnvProd)
	alert := f.alert(t, server.ID, models.MetricCPU, models.SeverityCritical, 96)
	r := newTestRecommender(t, f, 50)

	require.NoError(t, r.RunOnce(f.ctx))
	require.Len(t, f.actions(t, models.ActionPending), 1)

	// A changed value on an alert that already has an open action is covered.
	require.NoError(t, f.store.UpdateAlert(f.ctx, alert.ID, models.SeverityCritical, 98, 90))
	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))
	actions := f.actions(t)
	require.Len(t, actions, 1)

	// Once rejected the alert is eligible again, but only while its
	// signature differs from the last one acted on.
	f.reject(t, actions[0].ID)
	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))
	assert.Len(t, f.actions(t), 2, "signature changed from 96 to 98")

	f.reject(t, f.actions(t, models.ActionPending)[0].ID)
	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))
	assert.Len(t, f.actions(t), 2)
}

func TestRecommenderDailyCap(t *testing.T) {
	f := newFixture(t)
	for _, host := range []string{"a-01", "b-01"} {
		s := f.server(t, host, models.EnvProd)
		f.alert(t, s.ID, models.MetricCPU, models.SeverityCritical, 96)
	}
	r := newTestRecommender(t, f, 1)

	require.NoError(t, r.RunOnce(f.ctx))
	assert.Len(t, f.actions(t), 1)
	assert.Equal(t, 1, f.auditCount(t, audit.BreakerTripped))
	assert.Equal(t, 1, r.Daily().Used())

	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))
	assert.Len(t, f.actions(t), 1)
	assert.Equal(t, 1, f.auditCount(t, audit.BreakerTripped), "the open breaker is reported once")

	f.advance(24 * time.Hour)
	require.NoError(t, r.RunOnce(f.ctx))
	assert.Len(t, f.actions(t), 2)
}

func TestRecommenderProactiveForecasts(t *testing.T) {
	f := newFixture(t)
	server := f.server(t, "files-01", models.EnvProd)
	require.NoError(t, f.store.UpdateServerStatus(f.ctx, server.ID, models.ServerWarning))
	f.metric(t, server.ID, 40, 50, 79)
	f.ai.predictions = []ai.Prediction{
		{
			MetricType: models.MetricDisk, PredictedValue: 93, HorizonHours: 6, Probability: 0.85,
			Recommendation: &ai.Recommendation{Title: "Clean temp files", ActionType: "cleanup_files", Confidence: 88},
		},
		{
			MetricType: models.MetricCPU, PredictedValue: 91, HorizonHours: 12, Probability: 0.4,
			Recommendation: &ai.Recommendation{Title: "Renice", ActionType: "optimize_cpu", Confidence: 85},
		},
	}
	r := newTestRecommender(t, f, 50)

	require.NoError(t, r.RunOnce(f.ctx))
	actions := f.actions(t, models.ActionPending)
	require.Len(t, actions, 1)
	assert.Nil(t, actions[0].AlertID)
	assert.Equal(t, "cleanup_files", actions[0].ActionType)
	assert.Contains(t, actions[0].Description, "p=0.85")

	f.advance(10 * time.Minute)
	require.NoError(t, r.RunOnce(f.ctx))
	assert.EqualValues(t, 1, f.ai.predCalls.Load(), "forecasts are cached per server")
}
