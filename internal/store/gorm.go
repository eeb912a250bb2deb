package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of gorm. The connection must be opened
// with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB { return s.db }

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// ─── Servers ────────────────────────────────────────────────────────────────

func (s *GormStore) CreateServer(ctx context.Context, server *models.Server) error {
	ensureID(&server.ID)
	return translate(s.db.WithContext(ctx).Create(server).Error)
}

func (s *GormStore) GetServer(ctx context.Context, id uuid.UUID) (*models.Server, error) {
	var server models.Server
	if err := s.db.WithContext(ctx).First(&server, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &server, nil
}

func (s *GormStore) ListServers(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	err := s.db.WithContext(ctx).Order("hostname ASC").Find(&servers).Error
	return servers, translate(err)
}

func (s *GormStore) UpdateServerStatus(ctx context.Context, id uuid.UUID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Server{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Metrics ────────────────────────────────────────────────────────────────

func (s *GormStore) CreateMetric(ctx context.Context, metric *models.Metric) error {
	ensureID(&metric.ID)
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}
	return translate(s.db.WithContext(ctx).Create(metric).Error)
}

func (s *GormStore) ListMetricsSince(ctx context.Context, since time.Time) ([]models.Metric, error) {
	var metrics []models.Metric
	err := s.db.WithContext(ctx).Where("timestamp > ?", since).Order("timestamp ASC").Find(&metrics).Error
	return metrics, translate(err)
}

func (s *GormStore) RecentMetrics(ctx context.Context, serverID uuid.UUID, limit int) ([]models.Metric, error) {
	var metrics []models.Metric
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).
		Order("timestamp DESC").Limit(limit).Find(&metrics).Error
	return metrics, translate(err)
}

func (s *GormStore) LatestMetric(ctx context.Context, serverID uuid.UUID) (*models.Metric, error) {
	var metric models.Metric
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("timestamp DESC").First(&metric).Error
	if err != nil {
		return nil, translate(err)
	}
	return &metric, nil
}

func (s *GormStore) LatestMetrics(ctx context.Context) ([]models.Metric, error) {
	var metrics []models.Metric
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (server_id) *
		FROM metrics
		ORDER BY server_id, timestamp DESC`).Scan(&metrics).Error
	return metrics, translate(err)
}

func (s *GormStore) CreateAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	ensureID(&anomaly.ID)
	return translate(s.db.WithContext(ctx).Create(anomaly).Error)
}

// ─── Alerts ─────────────────────────────────────────────────────────────────

func (s *GormStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	ensureID(&alert.ID)
	if alert.Status == "" {
		alert.Status = models.AlertActive
	}
	return translate(s.db.WithContext(ctx).Create(alert).Error)
}

func (s *GormStore) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var alert models.Alert
	if err := s.db.WithContext(ctx).First(&alert, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &alert, nil
}

func (s *GormStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ServerID != nil {
		query = query.Where("server_id = ?", *filter.ServerID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var alerts []models.Alert
	return alerts, translate(query.Find(&alerts).Error)
}

func (s *GormStore) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.ListAlerts(ctx, AlertFilter{Status: models.AlertActive})
}

func (s *GormStore) FindActiveAlert(ctx context.Context, serverID uuid.UUID, metricType string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND metric_type = ? AND status = ?", serverID, metricType, models.AlertActive).
		First(&alert).Error
	if err != nil {
		return nil, translate(err)
	}
	return &alert, nil
}

func (s *GormStore) CountActiveAlerts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).Where("status = ?", models.AlertActive).Count(&count).Error
	return count, translate(err)
}

func (s *GormStore) CountActiveAlertsForServer(ctx context.Context, serverID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("server_id = ? AND status = ?", serverID, models.AlertActive).Count(&count).Error
	return count, translate(err)
}

func (s *GormStore) UpdateAlert(ctx context.Context, id uuid.UUID, severity string, value, threshold float64) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, models.AlertActive).
		Updates(map[string]interface{}{
			"severity":     severity,
			"metric_value": value,
			"threshold":    threshold,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ? AND status = ?", id, models.AlertActive).
		Updates(map[string]interface{}{
			"status":      models.AlertResolved,
			"resolved_at": at,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Remediation actions ────────────────────────────────────────────────────

func (s *GormStore) CreateRemediationAction(ctx context.Context, action *models.RemediationAction) error {
	ensureID(&action.ID)
	if action.Status == "" {
		action.Status = models.ActionPending
	}
	return translate(s.db.WithContext(ctx).Create(action).Error)
}

func (s *GormStore) GetRemediationAction(ctx context.Context, id uuid.UUID) (*models.RemediationAction, error) {
	var action models.RemediationAction
	if err := s.db.WithContext(ctx).First(&action, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &action, nil
}

func (s *GormStore) ListRemediationActions(ctx context.Context, filter ActionFilter) ([]models.RemediationAction, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC")
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.ServerID != nil {
		query = query.Where("server_id = ?", *filter.ServerID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var actions []models.RemediationAction
	return actions, translate(query.Find(&actions).Error)
}

func (s *GormStore) FindOpenAction(ctx context.Context, serverID uuid.UUID, alertID *uuid.UUID, actionType string) (*models.RemediationAction, error) {
	query := s.db.WithContext(ctx).Where("server_id = ? AND status IN ?", serverID, models.OpenActionStatuses)
	if alertID != nil {
		query = query.Where("alert_id = ?", *alertID)
	} else {
		query = query.Where("alert_id IS NULL AND action_type = ?", actionType)
	}
	var action models.RemediationAction
	if err := query.First(&action).Error; err != nil {
		return nil, translate(err)
	}
	return &action, nil
}

func (s *GormStore) UpdateRemediationStatus(ctx context.Context, id uuid.UUID, from, to string, update ActionUpdate) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	fields := map[string]interface{}{"status": to}
	if update.ApprovalMode != "" {
		fields["approval_mode"] = update.ApprovalMode
	}
	if update.ApprovedBy != "" {
		fields["approved_by"] = update.ApprovedBy
	}
	if update.ComplianceScore != nil {
		fields["compliance_score"] = *update.ComplianceScore
	}
	if update.Output != "" {
		fields["output"] = update.Output
	}
	if update.ExitCode != nil {
		fields["exit_code"] = *update.ExitCode
	}
	if update.Impact != "" {
		fields["impact"] = update.Impact
	}
	if update.ErrorMessage != "" {
		fields["error_message"] = update.ErrorMessage
	}
	if update.ExecutedAt != nil {
		fields["executed_at"] = *update.ExecutedAt
	}
	if update.CompletedAt != nil {
		fields["completed_at"] = *update.CompletedAt
	}

	res := s.db.WithContext(ctx).Model(&models.RemediationAction{}).
		Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetRemediationAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: action %s not in status %s", ErrConflict, id, from)
	}
	return nil
}

// ─── Workflows ──────────────────────────────────────────────────────────────

func (s *GormStore) CreateApprovalWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow, steps []models.WorkflowStep) error {
	ensureID(&workflow.ID)
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(workflow).Error; err != nil {
			return err
		}
		for i := range steps {
			ensureID(&steps[i].ID)
			steps[i].WorkflowID = workflow.ID
		}
		if len(steps) == 0 {
			return nil
		}
		return tx.Create(&steps).Error
	}))
}

func (s *GormStore) GetApprovalWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	var wf models.ApprovalWorkflow
	if err := s.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &wf, nil
}

func (s *GormStore) GetWorkflowByAction(ctx context.Context, actionID uuid.UUID) (*models.ApprovalWorkflow, error) {
	var wf models.ApprovalWorkflow
	if err := s.db.WithContext(ctx).First(&wf, "remediation_action_id = ?", actionID).Error; err != nil {
		return nil, translate(err)
	}
	return &wf, nil
}

func (s *GormStore) ListApprovalWorkflows(ctx context.Context, status string) ([]models.ApprovalWorkflow, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var workflows []models.ApprovalWorkflow
	return workflows, translate(query.Find(&workflows).Error)
}

func (s *GormStore) UpdateApprovalWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	return translate(s.db.WithContext(ctx).Model(workflow).Select(
		"current_step", "status", "metadata", "completed_at", "updated_at",
	).Updates(workflow).Error)
}

func (s *GormStore) ListWorkflowSteps(ctx context.Context, workflowID uuid.UUID) ([]models.WorkflowStep, error) {
	var steps []models.WorkflowStep
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("step_number ASC").Find(&steps).Error
	return steps, translate(err)
}

func (s *GormStore) UpdateWorkflowStepStatus(ctx context.Context, step *models.WorkflowStep) error {
	return translate(s.db.WithContext(ctx).Model(step).Select(
		"status", "required_role", "assigned_to", "due_at", "decided_by", "decided_at", "comments", "updated_at",
	).Updates(step).Error)
}

func (s *GormStore) AppendApprovalHistory(ctx context.Context, entry *models.ApprovalHistory) error {
	ensureID(&entry.ID)
	return translate(s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) ListApprovalHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalHistory, error) {
	var history []models.ApprovalHistory
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("created_at ASC").Find(&history).Error
	return history, translate(err)
}

// ─── Audit ──────────────────────────────────────────────────────────────────

func (s *GormStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	ensureID(&log.ID)
	return translate(s.db.WithContext(ctx).Create(log).Error)
}

func (s *GormStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.AuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	query = query.Order("created_at DESC").Offset(filter.Offset)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var logs []models.AuditLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, translate(err)
	}
	return logs, total, nil
}

// ─── Connections ────────────────────────────────────────────────────────────

func (s *GormStore) SaveServerConnection(ctx context.Context, conn *models.ServerConnection) error {
	ensureID(&conn.ID)
	return translate(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}},
		UpdateAll: true,
	}).Create(conn).Error)
}

func (s *GormStore) DeleteServerConnection(ctx context.Context, serverID uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("server_id = ?", serverID).Delete(&models.ServerConnection{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListServerConnections(ctx context.Context) ([]models.ServerConnection, error) {
	var conns []models.ServerConnection
	return conns, translate(s.db.WithContext(ctx).Find(&conns).Error)
}

// ─── Agents ─────────────────────────────────────────────────────────────────

func (s *GormStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var agent models.Agent
	if err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &agent, nil
}

func (s *GormStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	return translate(s.db.WithContext(ctx).Create(agent).Error)
}

func (s *GormStore) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	return translate(s.db.WithContext(ctx).Model(agent).Select(
		"status", "processed_count", "error_count", "last_heartbeat", "last_error", "updated_at",
	).Updates(agent).Error)
}

func (s *GormStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	return agents, translate(s.db.WithContext(ctx).Order("id ASC").Find(&agents).Error)
}

var _ Store = (*GormStore)(nil)
