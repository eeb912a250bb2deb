package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
)

const AuditorID = "audit-reporter"

const reportWindow = 24 * time.Hour

const (
	PerformanceOptimal    = "optimal"
	PerformanceAcceptable = "acceptable"
	PerformanceDegraded   = "degraded"
	PerformanceCritical   = "critical"
)

type AuditorOptions struct {
	Interval time.Duration
}

// Auditor periodically snapshots fleet health, reports compliance over the
// trailing day and grades fleet performance.
type Auditor struct {
	*runner
	deps  Deps
	audit *audit.Recorder
}

func NewAuditor(deps Deps, opts AuditorOptions) *Auditor {
	a := &Auditor{deps: deps.withDefaults()}
	a.audit = a.deps.recorder()
	a.runner = newRunner(AuditorID, "Audit Reporter", "auditor", opts.Interval, a.report)
	return a
}

type HealthSnapshot struct {
	Servers      int            `json:"servers"`
	ServersBy    map[string]int `json:"servers_by_status"`
	ActiveAlerts int64          `json:"active_alerts"`
	Agents       int            `json:"agents"`
	AgentsBy     map[string]int `json:"agents_by_status"`
	OpenActions  int            `json:"open_actions"`
	CapturedAt   time.Time      `json:"captured_at"`
}

type ComplianceReport struct {
	Since          time.Time         `json:"since"`
	Until          time.Time         `json:"until"`
	Total          int               `json:"total"`
	Succeeded      int               `json:"succeeded"`
	Failed         int               `json:"failed"`
	Rejected       int               `json:"rejected"`
	Pending        int               `json:"pending"`
	AutoApproved   int               `json:"auto_approved"`
	ManualApproved int               `json:"manual_approved"`
	AutoRatio      float64           `json:"auto_approval_ratio"`
	SuccessRate    float64           `json:"success_rate"`
	Insights       *ai.AuditInsights `json:"insights"`
}

type PerformanceAssessment struct {
	Servers    int      `json:"servers"`
	AvgCPU     float64  `json:"avg_cpu"`
	AvgMemory  float64  `json:"avg_memory"`
	AvgDisk    float64  `json:"avg_disk"`
	AvgLatency float64  `json:"avg_latency"`
	Score      int      `json:"score"`
	Status     string   `json:"status"`
	Penalties  []string `json:"penalties"`
}

func (a *Auditor) report(ctx context.Context) error {
	var errs []error
	if _, err := a.Snapshot(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := a.ComplianceReport(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := a.AssessPerformance(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.addProcessed(3)
	return nil
}

// Snapshot records server, alert, agent and action counts.
func (a *Auditor) Snapshot(ctx context.Context) (*HealthSnapshot, error) {
	servers, err := a.deps.Store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	active, err := a.deps.Store.CountActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	agents, err := a.deps.Store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	open, err := a.deps.Store.ListRemediationActions(ctx, store.ActionFilter{Statuses: models.OpenActionStatuses})
	if err != nil {
		return nil, fmt.Errorf("list open actions: %w", err)
	}

	snap := &HealthSnapshot{
		Servers:      len(servers),
		ServersBy:    map[string]int{},
		ActiveAlerts: active,
		Agents:       len(agents),
		AgentsBy:     map[string]int{},
		OpenActions:  len(open),
		CapturedAt:   a.deps.Now(),
	}
	for _, s := range servers {
		snap.ServersBy[s.Status]++
	}
	for _, ag := range agents {
		snap.AgentsBy[ag.Status]++
	}

	a.audit.Record(ctx, audit.Entry{
		AgentID: AuditorID,
		Action:  audit.HealthSnapshot,
		Details: fmt.Sprintf("%d servers (%d critical), %d active alerts, %d open actions",
			snap.Servers, snap.ServersBy[models.ServerCritical], snap.ActiveAlerts, snap.OpenActions),
		Metadata: map[string]interface{}{
			"servers":           snap.Servers,
			"servers_by_status": snap.ServersBy,
			"active_alerts":     snap.ActiveAlerts,
			"agents":            snap.Agents,
			"agents_by_status":  snap.AgentsBy,
			"open_actions":      snap.OpenActions,
		},
	})
	return snap, nil
}

// ComplianceReport summarises actions created in the trailing 24 hours and
// publishes the result.
func (a *Auditor) ComplianceReport(ctx context.Context) (*ComplianceReport, error) {
	until := a.deps.Now()
	since := until.Add(-reportWindow)
	actions, err := a.deps.Store.ListRemediationActions(ctx, store.ActionFilter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	rep := &ComplianceReport{Since: since, Until: until, Total: len(actions)}
	for _, act := range actions {
		switch act.Status {
		case models.ActionCompleted:
			rep.Succeeded++
		case models.ActionFailed:
			rep.Failed++
		case models.ActionRejected:
			rep.Rejected++
		default:
			rep.Pending++
		}
		switch act.ApprovalMode {
		case models.ApprovalModeAuto:
			rep.AutoApproved++
		case models.ApprovalModeWorkflow:
			rep.ManualApproved++
		}
	}
	if approved := rep.AutoApproved + rep.ManualApproved; approved > 0 {
		rep.AutoRatio = round2(float64(rep.AutoApproved) / float64(approved))
	}
	if finished := rep.Succeeded + rep.Failed; finished > 0 {
		rep.SuccessRate = round2(float64(rep.Succeeded) / float64(finished))
	}
	rep.Insights = a.insights(ctx, rep)

	status := models.AuditSuccess
	if rep.Failed > rep.Succeeded {
		status = models.AuditWarning
	}
	a.audit.Record(ctx, audit.Entry{
		AgentID: AuditorID,
		Action:  audit.ComplianceReport,
		Details: rep.Insights.Summary,
		Status:  status,
		Metadata: map[string]interface{}{
			"total":               rep.Total,
			"succeeded":           rep.Succeeded,
			"failed":              rep.Failed,
			"rejected":            rep.Rejected,
			"pending":             rep.Pending,
			"auto_approved":       rep.AutoApproved,
			"manual_approved":     rep.ManualApproved,
			"auto_approval_ratio": rep.AutoRatio,
			"compliance_status":   rep.Insights.ComplianceStatus,
		},
	})
	a.deps.Events.Publish(events.ComplianceReport, rep)
	return rep, nil
}

func (a *Auditor) insights(ctx context.Context, rep *ComplianceReport) *ai.AuditInsights {
	logs, _, err := a.deps.Store.ListAuditLogs(ctx, store.AuditFilter{Since: rep.Since, Limit: 200})
	if err == nil && len(logs) > 0 {
		res, err := a.deps.AI.GenerateAuditInsights(ctx, ai.AuditInsightsRequest{
			Logs:      logs,
			Timeframe: ai.Timeframe(rep.Since, rep.Until),
		})
		if err == nil {
			return res
		}
		if !errors.Is(err, ai.ErrUnavailable) {
			slog.Warn("Audit insight inference failed, using summary", "error", err)
		}
	}
	return summarize(rep)
}

// summarize is the deterministic report used when inference is unavailable.
func summarize(rep *ComplianceReport) *ai.AuditInsights {
	out := &ai.AuditInsights{
		Summary: fmt.Sprintf("%d actions in the last 24h: %d succeeded, %d failed, %d rejected, %d pending",
			rep.Total, rep.Succeeded, rep.Failed, rep.Rejected, rep.Pending),
		ComplianceStatus: "compliant",
	}
	if rep.AutoApproved+rep.ManualApproved > 0 {
		out.KeyFindings = append(out.KeyFindings,
			fmt.Sprintf("%.0f%% of approvals were automatic", rep.AutoRatio*100))
	}
	if rep.Failed > 0 {
		out.KeyFindings = append(out.KeyFindings, fmt.Sprintf("%d remediations failed", rep.Failed))
		out.Recommendations = append(out.Recommendations, "Review failed remediations and retry where the cause is fixed")
	}
	if rep.Failed > rep.Succeeded {
		out.ComplianceStatus = "needs_review"
	}
	if rep.Pending > 0 {
		out.Recommendations = append(out.Recommendations, "Clear pending approvals before their steps escalate")
	}
	return out
}

// AssessPerformance grades the latest sample of every server.
func (a *Auditor) AssessPerformance(ctx context.Context) (*PerformanceAssessment, error) {
	latest, err := a.deps.Store.LatestMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	pa := GradePerformance(latest)
	if pa.Servers == 0 {
		return pa, nil
	}

	entry := audit.Entry{
		AgentID: AuditorID,
		Action:  audit.PerformanceAssessment,
		Details: fmt.Sprintf("fleet performance %s (score %d)", pa.Status, pa.Score),
		Metadata: map[string]interface{}{
			"servers":     pa.Servers,
			"avg_cpu":     pa.AvgCPU,
			"avg_memory":  pa.AvgMemory,
			"avg_disk":    pa.AvgDisk,
			"avg_latency": pa.AvgLatency,
			"score":       pa.Score,
			"status":      pa.Status,
			"penalties":   pa.Penalties,
		},
	}
	if pa.Status == PerformanceDegraded || pa.Status == PerformanceCritical {
		entry.Status = models.AuditWarning
		entry.Details = fmt.Sprintf("fleet performance degraded to %s (score %d): %s",
			pa.Status, pa.Score, strings.Join(pa.Penalties, "; "))
		slog.Warn("Fleet performance below acceptable", "score", pa.Score, "status", pa.Status)
	}
	a.audit.Record(ctx, entry)
	return pa, nil
}

type penaltyBand struct {
	above   float64
	penalty int
}

var performanceBands = map[string][]penaltyBand{
	models.MetricCPU:     {{80, 25}, {60, 10}},
	models.MetricMemory:  {{85, 25}, {70, 10}},
	models.MetricDisk:    {{85, 25}, {70, 10}},
	models.MetricLatency: {{200, 15}, {100, 5}},
}

// GradePerformance averages the samples and deducts one penalty per metric
// for the highest band its average exceeds.
func GradePerformance(latest []models.Metric) *PerformanceAssessment {
	pa := &PerformanceAssessment{Servers: len(latest), Score: 100, Status: PerformanceOptimal}
	if len(latest) == 0 {
		return pa
	}
	for _, m := range latest {
		pa.AvgCPU += m.CPUUsage
		pa.AvgMemory += m.MemoryUsage
		pa.AvgDisk += m.DiskUsage
		pa.AvgLatency += m.NetworkLatency
	}
	n := float64(len(latest))
	pa.AvgCPU = round2(pa.AvgCPU / n)
	pa.AvgMemory = round2(pa.AvgMemory / n)
	pa.AvgDisk = round2(pa.AvgDisk / n)
	pa.AvgLatency = round2(pa.AvgLatency / n)

	avgs := map[string]float64{
		models.MetricCPU:     pa.AvgCPU,
		models.MetricMemory:  pa.AvgMemory,
		models.MetricDisk:    pa.AvgDisk,
		models.MetricLatency: pa.AvgLatency,
	}
	for _, metric := range models.DetectableMetrics {
		for _, band := range performanceBands[metric] {
			if avgs[metric] > band.above {
				pa.Score -= band.penalty
				pa.Penalties = append(pa.Penalties, fmt.Sprintf("%s average %.1f above %.0f", metric, avgs[metric], band.above))
				break
			}
		}
	}
	if pa.Score < 0 {
		pa.Score = 0
	}
	pa.Status = performanceStatus(pa.Score)
	return pa
}

func performanceStatus(score int) string {
	switch {
	case score >= 90:
		return PerformanceOptimal
	case score >= 70:
		return PerformanceAcceptable
	case score >= 50:
		return PerformanceDegraded
	}
	return PerformanceCritical
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
