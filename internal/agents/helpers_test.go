package agents

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/ahmetk3436/autoremedy/internal/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Wednesday 10:00 UTC, inside business hours.
var officeHours = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx   context.Context
	store *store.MemoryStore
	hub   *events.Hub
	feed  <-chan events.Event
	ai    *fakeAI

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemoryStore(),
		hub:   events.NewHub(),
		ai:    &fakeAI{},
		now:   officeHours,
	}
	f.store.SetClock(f.clock)
	feed, cancel := f.hub.Subscribe()
	t.Cleanup(cancel)
	f.feed = feed
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fixture) deps(t *testing.T) Deps {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	return Deps{Store: f.store, Policy: policy.NewStatic(p), Events: f.hub, AI: f.ai, Now: f.clock}
}

func (f *fixture) server(t *testing.T, hostname, env string) *models.Server {
	t.Helper()
	s := &models.Server{Hostname: hostname, Environment: env}
	require.NoError(t, f.store.CreateServer(f.ctx, s))
	return s
}

func (f *fixture) metric(t *testing.T, serverID uuid.UUID, cpu, mem, disk float64) {
	t.Helper()
	require.NoError(t, f.store.CreateMetric(f.ctx, &models.Metric{
		ServerID:    serverID,
		CPUUsage:    cpu,
		MemoryUsage: mem,
		DiskUsage:   disk,
		Timestamp:   f.clock(),
	}))
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

func (f *fixture) activeAlerts(t *testing.T) []models.Alert {
	t.Helper()
	alerts, err := f.store.GetActiveAlerts(f.ctx)
	require.NoError(t, err)
	return alerts
}

func (f *fixture) actions(t *testing.T, statuses ...string) []models.RemediationAction {
	t.Helper()
	actions, err := f.store.ListRemediationActions(f.ctx, store.ActionFilter{Statuses: statuses})
	require.NoError(t, err)
	return actions
}

func (f *fixture) auditCount(t *testing.T, action string) int {
	t.Helper()
	_, total, err := f.store.ListAuditLogs(f.ctx, store.AuditFilter{Action: action})
	require.NoError(t, err)
	return int(total)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// fakeAI answers recommendations from a fixed list and fails everything else
// as unavailable unless a result is set.
type fakeAI struct {
	recommendations []ai.Recommendation
	predictions     []ai.Prediction
	risk            *ai.RiskResult
	recErr          error

	recCalls  atomic.Int32
	predCalls atomic.Int32
}

func (a *fakeAI) AnalyzeAnomalies(context.Context, ai.AnomalyRequest) (*ai.AnomalyResult, error) {
	return nil, ai.ErrUnavailable
}

func (a *fakeAI) GenerateRecommendations(context.Context, ai.RecommendationRequest) (*ai.RecommendationResult, error) {
	a.recCalls.Add(1)
	if a.recErr != nil {
		return nil, a.recErr
	}
	if a.recommendations == nil {
		return nil, ai.ErrUnavailable
	}
	return &ai.RecommendationResult{Recommendations: a.recommendations}, nil
}

func (a *fakeAI) GeneratePredictions(context.Context, ai.PredictionRequest) (*ai.PredictionResult, error) {
	a.predCalls.Add(1)
	if a.predictions == nil {
		return nil, ai.ErrUnavailable
	}
	return &ai.PredictionResult{Predictions: a.predictions}, nil
}

func (a *fakeAI) AssessRisk(context.Context, ai.RiskRequest) (*ai.RiskResult, error) {
	if a.risk == nil {
		return nil, ai.ErrUnavailable
	}
	return a.risk, nil
}

func (a *fakeAI) GenerateAuditInsights(context.Context, ai.AuditInsightsRequest) (*ai.AuditInsights, error) {
	return nil, ai.ErrUnavailable
}

// spyTransport records commands and exits non-zero for any command starting
// with a prefix in fail.
type spyTransport struct {
	mu       sync.Mutex
	commands []string
	fail     []string
	stdout   string
}

func (s *spyTransport) Run(_ context.Context, _ executor.Connection, command string) (*executor.Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	for _, prefix := range s.fail {
		if strings.HasPrefix(command, prefix) {
			return &executor.Result{ExitCode: 1, Stderr: "boom"}, nil
		}
	}
	return &executor.Result{Success: true, Stdout: s.stdout}, nil
}

func (s *spyTransport) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func newSpyExecutor(t *testing.T, spy *spyTransport, serverIDs ...uuid.UUID) *executor.Executor {
	t.Helper()
	reg := executor.NewRegistry()
	for _, id := range serverIDs {
		require.NoError(t, reg.Register(context.Background(), executor.Connection{
			ServerID: id,
			Type:     models.ConnLocal,
			OS:       models.OSLinux,
		}))
	}
	return executor.New(reg, map[string]executor.Transport{models.ConnLocal: spy})
}

func newTestEngine(f *fixture) *workflow.Engine {
	e := workflow.NewEngine(f.store, f.hub)
	e.SetClock(f.clock)
	return e
}
