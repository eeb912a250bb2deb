package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness rules
// the postgres schema does: one active alert per (server, metric) and one open
// action per (server, alert).
type MemoryStore struct {
	mu sync.RWMutex

	servers     map[uuid.UUID]models.Server
	metrics     []models.Metric
	anomalies   []models.Anomaly
	alerts      map[uuid.UUID]models.Alert
	actions     map[uuid.UUID]models.RemediationAction
	workflows   map[uuid.UUID]models.ApprovalWorkflow
	steps       map[uuid.UUID][]models.WorkflowStep
	history     map[uuid.UUID][]models.ApprovalHistory
	audit       []models.AuditLog
	connections map[uuid.UUID]models.ServerConnection
	agents      map[string]models.Agent

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:     make(map[uuid.UUID]models.Server),
		alerts:      make(map[uuid.UUID]models.Alert),
		actions:     make(map[uuid.UUID]models.RemediationAction),
		workflows:   make(map[uuid.UUID]models.ApprovalWorkflow),
		steps:       make(map[uuid.UUID][]models.WorkflowStep),
		history:     make(map[uuid.UUID][]models.ApprovalHistory),
		connections: make(map[uuid.UUID]models.ServerConnection),
		agents:      make(map[string]models.Agent),
		now:         time.Now,
	}
}

// SetClock overrides the timestamp source used for CreatedAt/UpdatedAt.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) stamp(created, updated *time.Time) {
	now := s.now()
	if created != nil && created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

// ─── Servers ────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateServer(_ context.Context, server *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.servers {
		if existing.Hostname == server.Hostname {
			return fmt.Errorf("%w: hostname %s", ErrDuplicate, server.Hostname)
		}
	}
	ensureID(&server.ID)
	if server.Status == "" {
		server.Status = models.ServerHealthy
	}
	if server.Environment == "" {
		server.Environment = models.EnvDev
	}
	s.stamp(&server.CreatedAt, &server.UpdatedAt)
	s.servers[server.ID] = *server
	return nil
}

func (s *MemoryStore) GetServer(_ context.Context, id uuid.UUID) (*models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	server, ok := s.servers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &server, nil
}

func (s *MemoryStore) ListServers(_ context.Context) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Server, 0, len(s.servers))
	for _, server := range s.servers {
		out = append(out, server)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func (s *MemoryStore) UpdateServerStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.servers[id]
	if !ok {
		return ErrNotFound
	}
	server.Status = status
	s.stamp(nil, &server.UpdatedAt)
	s.servers[id] = server
	return nil
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateMetric(_ context.Context, metric *models.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&metric.ID)
	if metric.Timestamp.IsZero() {
		metric.Timestamp = s.now()
	}
	s.metrics = append(s.metrics, *metric)
	return nil
}

func (s *MemoryStore) ListMetricsSince(_ context.Context, since time.Time) ([]models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Metric
	for _, m := range s.metrics {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) RecentMetrics(_ context.Context, serverID uuid.UUID, limit int) ([]models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.serverMetricsDesc(serverID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) serverMetricsDesc(serverID uuid.UUID) []models.Metric {
	var out []models.Metric
	for _, m := range s.metrics {
		if m.ServerID == serverID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (s *MemoryStore) LatestMetric(_ context.Context, serverID uuid.UUID) (*models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metrics := s.serverMetricsDesc(serverID)
	if len(metrics) == 0 {
		return nil, ErrNotFound
	}
	return &metrics[0], nil
}

func (s *MemoryStore) LatestMetrics(_ context.Context) ([]models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[uuid.UUID]models.Metric)
	for _, m := range s.metrics {
		if cur, ok := latest[m.ServerID]; !ok || m.Timestamp.After(cur.Timestamp) {
			latest[m.ServerID] = m
		}
	}
	out := make([]models.Metric, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID.String() < out[j].ServerID.String() })
	return out, nil
}

func (s *MemoryStore) CreateAnomaly(_ context.Context, anomaly *models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&anomaly.ID)
	if anomaly.DetectedAt.IsZero() {
		anomaly.DetectedAt = s.now()
	}
	s.anomalies = append(s.anomalies, *anomaly)
	return nil
}

// Anomalies returns every recorded anomaly in insertion order.
func (s *MemoryStore) Anomalies() []models.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Anomaly(nil), s.anomalies...)
}

// ─── Alerts ─────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.Status == "" {
		alert.Status = models.AlertActive
	}
	if alert.Status == models.AlertActive {
		for _, existing := range s.alerts {
			if existing.Status == models.AlertActive && existing.ServerID == alert.ServerID &&
				existing.MetricType == alert.MetricType {
				return fmt.Errorf("%w: active %s alert for server %s", ErrDuplicate, alert.MetricType, alert.ServerID)
			}
		}
	}
	ensureID(&alert.ID)
	s.stamp(&alert.CreatedAt, &alert.UpdatedAt)
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id uuid.UUID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &alert, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, filter AlertFilter) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Alert
	for _, alert := range s.alerts {
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.ServerID != nil && alert.ServerID != *filter.ServerID {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.ListAlerts(ctx, AlertFilter{Status: models.AlertActive})
}

func (s *MemoryStore) FindActiveAlert(_ context.Context, serverID uuid.UUID, metricType string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.Status == models.AlertActive && alert.ServerID == serverID && alert.MetricType == metricType {
			return &alert, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CountActiveAlerts(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, alert := range s.alerts {
		if alert.Status == models.AlertActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountActiveAlertsForServer(_ context.Context, serverID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, alert := range s.alerts {
		if alert.Status == models.AlertActive && alert.ServerID == serverID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateAlert(_ context.Context, id uuid.UUID, severity string, value, threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok || alert.Status != models.AlertActive {
		return ErrNotFound
	}
	alert.Severity = severity
	alert.MetricValue = value
	alert.Threshold = threshold
	s.stamp(nil, &alert.UpdatedAt)
	s.alerts[id] = alert
	return nil
}

func (s *MemoryStore) ResolveAlert(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok || alert.Status != models.AlertActive {
		return ErrNotFound
	}
	alert.Status = models.AlertResolved
	alert.ResolvedAt = &at
	s.stamp(nil, &alert.UpdatedAt)
	s.alerts[id] = alert
	return nil
}

// ─── Remediation actions ────────────────────────────────────────────────────

func isOpen(status string) bool {
	for _, s := range models.OpenActionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *MemoryStore) findOpenLocked(serverID uuid.UUID, alertID *uuid.UUID, actionType string) (models.RemediationAction, bool) {
	for _, action := range s.actions {
		if action.ServerID != serverID || !isOpen(action.Status) || !action.SameAlert(alertID) {
			continue
		}
		if alertID == nil && action.ActionType != actionType {
			continue
		}
		return action, true
	}
	return models.RemediationAction{}, false
}

func (s *MemoryStore) CreateRemediationAction(_ context.Context, action *models.RemediationAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	if isOpen(action.Status) {
		if _, ok := s.findOpenLocked(action.ServerID, action.AlertID, action.ActionType); ok {
			return fmt.Errorf("%w: open action for server %s", ErrDuplicate, action.ServerID)
		}
	}
	ensureID(&action.ID)
	s.stamp(&action.CreatedAt, &action.UpdatedAt)
	s.actions[action.ID] = *action
	return nil
}

func (s *MemoryStore) GetRemediationAction(_ context.Context, id uuid.UUID) (*models.RemediationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &action, nil
}

func (s *MemoryStore) ListRemediationActions(_ context.Context, filter ActionFilter) ([]models.RemediationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statuses := make(map[string]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}
	var out []models.RemediationAction
	for _, action := range s.actions {
		if len(statuses) > 0 && !statuses[action.Status] {
			continue
		}
		if filter.ServerID != nil && action.ServerID != *filter.ServerID {
			continue
		}
		if !filter.Since.IsZero() && action.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindOpenAction(_ context.Context, serverID uuid.UUID, alertID *uuid.UUID, actionType string) (*models.RemediationAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.findOpenLocked(serverID, alertID, actionType)
	if !ok {
		return nil, ErrNotFound
	}
	return &action, nil
}

func (s *MemoryStore) UpdateRemediationStatus(_ context.Context, id uuid.UUID, from, to string, update ActionUpdate) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[id]
	if !ok {
		return ErrNotFound
	}
	if action.Status != from {
		return fmt.Errorf("%w: action %s not in status %s", ErrConflict, id, from)
	}
	action.Status = to
	if update.ApprovalMode != "" {
		action.ApprovalMode = update.ApprovalMode
	}
	if update.ApprovedBy != "" {
		action.ApprovedBy = update.ApprovedBy
	}
	if update.ComplianceScore != nil {
		action.ComplianceScore = *update.ComplianceScore
	}
	if update.Output != "" {
		action.Output = update.Output
	}
	if update.ExitCode != nil {
		code := *update.ExitCode
		action.ExitCode = &code
	}
	if update.Impact != "" {
		action.Impact = update.Impact
	}
	if update.ErrorMessage != "" {
		action.ErrorMessage = update.ErrorMessage
	}
	if update.ExecutedAt != nil {
		at := *update.ExecutedAt
		action.ExecutedAt = &at
	}
	if update.CompletedAt != nil {
		at := *update.CompletedAt
		action.CompletedAt = &at
	}
	s.stamp(nil, &action.UpdatedAt)
	s.actions[id] = action
	return nil
}

// ─── Workflows ──────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateApprovalWorkflow(_ context.Context, workflow *models.ApprovalWorkflow, steps []models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.workflows {
		if existing.RemediationActionID == workflow.RemediationActionID {
			return fmt.Errorf("%w: workflow for action %s", ErrDuplicate, workflow.RemediationActionID)
		}
	}
	ensureID(&workflow.ID)
	if workflow.Status == "" {
		workflow.Status = models.WorkflowPending
	}
	s.stamp(&workflow.CreatedAt, &workflow.UpdatedAt)
	stored := make([]models.WorkflowStep, len(steps))
	for i := range steps {
		ensureID(&steps[i].ID)
		steps[i].WorkflowID = workflow.ID
		s.stamp(&steps[i].CreatedAt, &steps[i].UpdatedAt)
		stored[i] = steps[i]
	}
	s.workflows[workflow.ID] = *workflow
	s.steps[workflow.ID] = stored
	return nil
}

func (s *MemoryStore) GetApprovalWorkflow(_ context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wf, nil
}

func (s *MemoryStore) GetWorkflowByAction(_ context.Context, actionID uuid.UUID) (*models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.workflows {
		if wf.RemediationActionID == actionID {
			return &wf, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListApprovalWorkflows(_ context.Context, status string) ([]models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ApprovalWorkflow
	for _, wf := range s.workflows {
		if status == "" || wf.Status == status {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateApprovalWorkflow(_ context.Context, workflow *models.ApprovalWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.workflows[workflow.ID]
	if !ok {
		return ErrNotFound
	}
	current.CurrentStep = workflow.CurrentStep
	current.Status = workflow.Status
	current.Metadata = workflow.Metadata
	current.CompletedAt = workflow.CompletedAt
	s.stamp(nil, &current.UpdatedAt)
	workflow.UpdatedAt = current.UpdatedAt
	s.workflows[workflow.ID] = current
	return nil
}

func (s *MemoryStore) ListWorkflowSteps(_ context.Context, workflowID uuid.UUID) ([]models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.WorkflowStep(nil), s.steps[workflowID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *MemoryStore) UpdateWorkflowStepStatus(_ context.Context, step *models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[step.WorkflowID]
	for i := range steps {
		if steps[i].ID != step.ID {
			continue
		}
		steps[i].Status = step.Status
		steps[i].RequiredRole = step.RequiredRole
		steps[i].AssignedTo = step.AssignedTo
		steps[i].DueAt = step.DueAt
		steps[i].DecidedBy = step.DecidedBy
		steps[i].DecidedAt = step.DecidedAt
		steps[i].Comments = step.Comments
		s.stamp(nil, &steps[i].UpdatedAt)
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) AppendApprovalHistory(_ context.Context, entry *models.ApprovalHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[entry.WorkflowID]; !ok {
		return ErrNotFound
	}
	ensureID(&entry.ID)
	s.stamp(&entry.CreatedAt, nil)
	s.history[entry.WorkflowID] = append(s.history[entry.WorkflowID], *entry)
	return nil
}

func (s *MemoryStore) ListApprovalHistory(_ context.Context, workflowID uuid.UUID) ([]models.ApprovalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ApprovalHistory(nil), s.history[workflowID]...), nil
}

// ─── Audit ──────────────────────────────────────────────────────────────────

func (s *MemoryStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&log.ID)
	if log.Status == "" {
		log.Status = models.AuditSuccess
	}
	s.stamp(&log.CreatedAt, nil)
	s.audit = append(s.audit, *log)
	return nil
}

func (s *MemoryStore) ListAuditLogs(_ context.Context, filter AuditFilter) ([]models.AuditLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []models.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		log := s.audit[i]
		if filter.AgentID != "" && log.AgentID != filter.AgentID {
			continue
		}
		if filter.Action != "" && log.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && log.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, log)
	}
	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// ─── Connections ────────────────────────────────────────────────────────────

func (s *MemoryStore) SaveServerConnection(_ context.Context, conn *models.ServerConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.connections[conn.ServerID]; ok {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
	}
	ensureID(&conn.ID)
	s.stamp(&conn.CreatedAt, &conn.UpdatedAt)
	s.connections[conn.ServerID] = *conn
	return nil
}

func (s *MemoryStore) DeleteServerConnection(_ context.Context, serverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[serverID]; !ok {
		return ErrNotFound
	}
	delete(s.connections, serverID)
	return nil
}

func (s *MemoryStore) ListServerConnections(_ context.Context) ([]models.ServerConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ServerConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, conn)
	}
	return out, nil
}

// ─── Agents ─────────────────────────────────────────────────────────────────

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &agent, nil
}

func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; ok {
		return fmt.Errorf("%w: agent %s", ErrDuplicate, agent.ID)
	}
	s.stamp(&agent.CreatedAt, &agent.UpdatedAt)
	s.agents[agent.ID] = *agent
	return nil
}

func (s *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	current.Status = agent.Status
	current.ProcessedCount = agent.ProcessedCount
	current.ErrorCount = agent.ErrorCount
	current.LastHeartbeat = agent.LastHeartbeat
	current.LastError = agent.LastError
	s.stamp(nil, &current.UpdatedAt)
	s.agents[agent.ID] = current
	return nil
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
