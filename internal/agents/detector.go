package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/lock"
	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
)

const DetectorID = "anomaly-detector"

const (
	MethodThreshold   = "threshold"
	MethodStatistical = "statistical"
	MethodAI          = "ai"
)

const (
	breakerGlobalAlerts    = "alert_global_cap"
	breakerPerServerAlerts = "alert_server_cap"
)

type DetectorOptions struct {
	Interval     time.Duration
	GlobalCap    int
	PerServerCap int
	AlertTTL     time.Duration
	AIDetection  bool
}

// Detector turns samples into a bounded set of deduplicated alerts.
type Detector struct {
	*runner
	deps   Deps
	opts   DetectorOptions
	audit  *audit.Recorder
	locks  *lock.Keyed
	global latch
	server latch

	lastRun time.Time
}

func NewDetector(deps Deps, opts DetectorOptions) *Detector {
	d := &Detector{deps: deps.withDefaults(), opts: opts, locks: lock.NewKeyed()}
	d.audit = d.deps.recorder()
	d.runner = newRunner(DetectorID, "Anomaly Detector", "detector", opts.Interval, d.detect)
	return d
}

type finding struct {
	ServerID    uuid.UUID
	MetricType  string
	Severity    string
	Value       float64
	Threshold   float64
	Expected    float64
	Deviation   float64
	Method      string
	Description string
}

func findingKey(serverID uuid.UUID, metricType string) string {
	return serverID.String() + "|" + metricType
}

func (d *Detector) detect(ctx context.Context) error {
	p := d.deps.Policy.Current()
	now := d.deps.Now()

	active, err := d.deps.Store.CountActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("count active alerts: %w", err)
	}
	metrics.SetActiveAlerts(active)
	if active >= int64(d.opts.GlobalCap) {
		d.tripGlobal(ctx, active)
		return skipped("%d active alerts at global cap %d", active, d.opts.GlobalCap)
	}
	d.global.reset()
	d.server.reset()

	resolved := d.cleanup(ctx, p, now)

	since := d.lastRun
	if since.IsZero() {
		since = now.Add(-2 * d.opts.Interval)
	}
	d.lastRun = now
	samples, err := d.deps.Store.ListMetricsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list metrics: %w", err)
	}
	if len(samples) == 0 {
		d.addProcessed(resolved)
		return nil
	}

	servers, err := d.serverIndex(ctx)
	if err != nil {
		return err
	}

	var findings []finding
	histories := make(map[uuid.UUID][]models.Metric)
	for _, m := range samples {
		server, ok := servers[m.ServerID]
		if !ok {
			continue
		}
		history, ok := histories[m.ServerID]
		if !ok {
			history, err = d.deps.Store.RecentMetrics(ctx, m.ServerID, p.Statistical.MinSamples*2+1)
			if err != nil {
				slog.Warn("Failed to load metric history", "server", server.Hostname, "error", err)
			}
			histories[m.ServerID] = history
		}
		findings = append(findings, thresholdFindings(p, server, m)...)
		findings = append(findings, statisticalFindings(p.Statistical, m, history)...)
	}
	if d.opts.AIDetection {
		findings = append(findings, d.aiFindings(ctx, samples, histories, servers)...)
	}

	for _, f := range findings {
		d.recordAnomaly(ctx, f, now)
	}

	created := 0
	for _, f := range mergeFindings(findings) {
		ok, err := d.raise(ctx, f, servers[f.ServerID])
		if err != nil {
			slog.Error("Failed to raise alert", "server_id", f.ServerID, "metric", f.MetricType, "error", err)
			d.addError(err)
			continue
		}
		if ok {
			created++
		}
	}
	d.addProcessed(created + resolved)

	if n, err := d.deps.Store.CountActiveAlerts(ctx); err == nil {
		metrics.SetActiveAlerts(n)
	}
	return nil
}

func (d *Detector) serverIndex(ctx context.Context) (map[uuid.UUID]models.Server, error) {
	list, err := d.deps.Store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	out := make(map[uuid.UUID]models.Server, len(list))
	for _, s := range list {
		out[s.ID] = s
	}
	return out, nil
}

// cleanup resolves this detector's alerts whose metric has recovered past
// the threshold scaled by recoveredRatio, and any older than the TTL.
func (d *Detector) cleanup(ctx context.Context, p *policy.Policy, now time.Time) int {
	alerts, err := d.deps.Store.GetActiveAlerts(ctx)
	if err != nil {
		slog.Error("Failed to list active alerts", "error", err)
		return 0
	}
	resolved := 0
	for _, alert := range alerts {
		if alert.AgentID != DetectorID {
			continue
		}
		reason := ""
		if d.opts.AlertTTL > 0 && now.Sub(alert.CreatedAt) >= d.opts.AlertTTL {
			reason = fmt.Sprintf("expired after %s", d.opts.AlertTTL)
		} else {
			latest, err := d.deps.Store.LatestMetric(ctx, alert.ServerID)
			if err != nil {
				continue
			}
			value, ok := latest.Value(alert.MetricType)
			if !ok {
				continue
			}
			if reason = recoveryReason(alert, value, p.RecoveredRatio); reason == "" {
				continue
			}
		}

		if err := d.deps.Store.ResolveAlert(ctx, alert.ID, now); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Error("Failed to resolve alert", "alert_id", alert.ID, "error", err)
			}
			continue
		}
		resolved++
		slog.Info("Alert auto-resolved", "alert_id", alert.ID, "reason", reason)
		d.audit.Record(ctx, audit.Entry{
			AgentID:  DetectorID,
			ServerID: audit.ServerRef(alert.ServerID),
			Action:   audit.AlertResolved,
			Details:  alert.Title + ": " + reason,
			Metadata: map[string]interface{}{"alert_id": alert.ID.String()},
		})
		d.deps.Events.Publish(events.AlertResolved, map[string]interface{}{
			"alert_id": alert.ID, "server_id": alert.ServerID, "reason": reason,
		})
	}
	return resolved
}

// recoveryReason reports why alert has recovered at value, or "" if it has
// not. Alerts whose value sits below their threshold were raised for a drop
// and recover once the value climbs back above threshold / ratio.
func recoveryReason(alert models.Alert, value, ratio float64) string {
	if alert.MetricValue < alert.Threshold {
		recovered := alert.Threshold
		if ratio > 0 {
			recovered = alert.Threshold / ratio
		}
		if value < recovered {
			return ""
		}
		return fmt.Sprintf("%s recovered to %.1f (above %.1f)", alert.MetricType, value, recovered)
	}
	recovered := alert.Threshold * ratio
	if value >= recovered {
		return ""
	}
	return fmt.Sprintf("%s recovered to %.1f (below %.1f)", alert.MetricType, value, recovered)
}

func thresholdFindings(p *policy.Policy, server models.Server, m models.Metric) []finding {
	var out []finding
	env := models.NormalizeEnvironment(server.Environment)
	for _, metricType := range models.DetectableMetrics {
		th, ok := p.ThresholdFor(env, metricType)
		if !ok {
			continue
		}
		value, _ := m.Value(metricType)
		sev, bound := th.Severity(value)
		if sev == "" {
			continue
		}
		out = append(out, finding{
			ServerID:    m.ServerID,
			MetricType:  metricType,
			Severity:    sev,
			Value:       value,
			Threshold:   bound,
			Expected:    th.Warning,
			Deviation:   value - bound,
			Method:      MethodThreshold,
			Description: fmt.Sprintf("%s %.1f%% exceeds %s threshold %.1f%% for %s", metricType, value, sev, bound, env),
		})
	}
	return out
}

// statisticalFindings flags values more than WarningZ/CriticalZ standard
// deviations from the mean of the samples that preceded m.
func statisticalFindings(cfg policy.Statistical, m models.Metric, history []models.Metric) []finding {
	var baseline []models.Metric
	for _, h := range history {
		if h.ID != m.ID && h.Timestamp.Before(m.Timestamp) {
			baseline = append(baseline, h)
		}
	}
	if len(baseline) < cfg.MinSamples || cfg.MinSamples <= 0 {
		return nil
	}
	if len(baseline) > cfg.MinSamples {
		baseline = baseline[:cfg.MinSamples]
	}

	var out []finding
	for _, metricType := range models.DetectableMetrics {
		values := make([]float64, 0, len(baseline))
		for _, h := range baseline {
			v, _ := h.Value(metricType)
			values = append(values, v)
		}
		mean, std := meanStd(values)
		if std == 0 {
			continue
		}
		value, _ := m.Value(metricType)
		z := (value - mean) / std
		var sev string
		var bound float64
		switch {
		case math.Abs(z) > cfg.CriticalZ:
			sev, bound = models.SeverityCritical, mean+math.Copysign(cfg.CriticalZ*std, z)
		case math.Abs(z) > cfg.WarningZ:
			sev, bound = models.SeverityWarning, mean+math.Copysign(cfg.WarningZ*std, z)
		default:
			continue
		}
		out = append(out, finding{
			ServerID:    m.ServerID,
			MetricType:  metricType,
			Severity:    sev,
			Value:       value,
			Threshold:   math.Round(bound*100) / 100,
			Expected:    math.Round(mean*100) / 100,
			Deviation:   math.Round(z*100) / 100,
			Method:      MethodStatistical,
			Description: fmt.Sprintf("%s %.1f is %.1f standard deviations from baseline %.1f", metricType, value, z, mean),
		})
	}
	return out
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func (d *Detector) aiFindings(ctx context.Context, samples []models.Metric, histories map[uuid.UUID][]models.Metric, servers map[uuid.UUID]models.Server) []finding {
	var history []models.Metric
	for _, h := range histories {
		history = append(history, h...)
	}
	res, err := d.deps.AI.AnalyzeAnomalies(ctx, ai.AnomalyRequest{Metrics: samples, History: history})
	if err != nil {
		if !errors.Is(err, ai.ErrUnavailable) {
			slog.Warn("AI anomaly analysis failed, continuing with threshold and statistical results", "error", err)
		}
		return nil
	}
	var out []finding
	for _, a := range res.Anomalies {
		id, err := uuid.Parse(a.ServerID)
		if err != nil {
			continue
		}
		if _, ok := servers[id]; !ok {
			continue
		}
		if _, ok := (&models.Metric{}).Value(a.MetricType); !ok {
			continue
		}
		out = append(out, finding{
			ServerID:    id,
			MetricType:  a.MetricType,
			Severity:    a.Severity,
			Value:       a.ActualValue,
			Threshold:   a.ExpectedValue,
			Expected:    a.ExpectedValue,
			Deviation:   a.DeviationScore,
			Method:      MethodAI,
			Description: a.Description,
		})
	}
	return out
}

func (d *Detector) recordAnomaly(ctx context.Context, f finding, now time.Time) {
	a := &models.Anomaly{
		ServerID:        f.ServerID,
		AgentID:         DetectorID,
		MetricType:      f.MetricType,
		Severity:        f.Severity,
		ActualValue:     f.Value,
		ExpectedValue:   f.Expected,
		DeviationScore:  f.Deviation,
		DetectionMethod: f.Method,
		Description:     f.Description,
		DetectedAt:      now,
	}
	if err := d.deps.Store.CreateAnomaly(ctx, a); err != nil {
		slog.Warn("Failed to record anomaly", "server_id", f.ServerID, "error", err)
	}
}

// mergeFindings keeps one finding per (server, metric): the most severe,
// then the larger value.
func mergeFindings(findings []finding) []finding {
	best := make(map[string]finding)
	var order []string
	for _, f := range findings {
		key := findingKey(f.ServerID, f.MetricType)
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = f
			continue
		}
		rf, rc := models.SeverityRank(f.Severity), models.SeverityRank(cur.Severity)
		if rf > rc || (rf == rc && f.Value > cur.Value) {
			best[key] = f
		}
	}
	sort.Strings(order)
	out := make([]finding, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// raise updates the active alert for the finding's key in place, or creates
// one when both caps allow. Reports whether an alert was created.
func (d *Detector) raise(ctx context.Context, f finding, server models.Server) (bool, error) {
	unlock := d.locks.Lock(findingKey(f.ServerID, f.MetricType))
	defer unlock()

	existing, err := d.deps.Store.FindActiveAlert(ctx, f.ServerID, f.MetricType)
	switch {
	case err == nil:
		if existing.Severity == f.Severity && existing.MetricValue == f.Value {
			return false, nil
		}
		if err := d.deps.Store.UpdateAlert(ctx, existing.ID, f.Severity, f.Value, f.Threshold); err != nil {
			return false, fmt.Errorf("update alert: %w", err)
		}
		d.deps.Events.Publish(events.AlertUpdated, map[string]interface{}{
			"alert_id": existing.ID, "server_id": f.ServerID, "metric_type": f.MetricType,
			"severity": f.Severity, "metric_value": f.Value,
		})
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("find active alert: %w", err)
	}

	perServer, err := d.deps.Store.CountActiveAlertsForServer(ctx, f.ServerID)
	if err != nil {
		return false, err
	}
	if perServer >= int64(d.opts.PerServerCap) {
		if d.server.trip() {
			tripBreaker(ctx, d.deps, d.audit, DetectorID, breakerPerServerAlerts,
				fmt.Sprintf("%s has %d active alerts (cap %d); dropping %s alert", server.Hostname, perServer, d.opts.PerServerCap, f.MetricType),
				map[string]interface{}{"server_id": f.ServerID.String()})
		}
		return false, nil
	}
	total, err := d.deps.Store.CountActiveAlerts(ctx)
	if err != nil {
		return false, err
	}
	if total >= int64(d.opts.GlobalCap) {
		d.tripGlobal(ctx, total)
		return false, nil
	}

	alert := &models.Alert{
		ServerID:    f.ServerID,
		AgentID:     DetectorID,
		Title:       fmt.Sprintf("%s %s on %s", titleCase(f.Severity), f.MetricType, server.Hostname),
		Description: f.Description,
		MetricType:  f.MetricType,
		Severity:    f.Severity,
		MetricValue: f.Value,
		Threshold:   f.Threshold,
		Status:      models.AlertActive,
	}
	if err := d.deps.Store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("create alert: %w", err)
	}

	slog.Info("Alert created", "alert_id", alert.ID, "server", server.Hostname,
		"metric", f.MetricType, "severity", f.Severity, "value", f.Value, "method", f.Method)
	d.audit.Record(ctx, audit.Entry{
		AgentID:  DetectorID,
		ServerID: audit.ServerRef(f.ServerID),
		Action:   audit.AlertCreated,
		Details:  alert.Title,
		Status:   models.AuditWarning,
		Metadata: map[string]interface{}{
			"alert_id": alert.ID.String(), "metric_type": f.MetricType, "severity": f.Severity,
			"value": f.Value, "threshold": f.Threshold, "method": f.Method,
		},
	})
	d.deps.Events.Publish(events.AlertCreated, alert)
	return true, nil
}

func (d *Detector) tripGlobal(ctx context.Context, active int64) {
	if !d.global.trip() {
		return
	}
	tripBreaker(ctx, d.deps, d.audit, DetectorID, breakerGlobalAlerts,
		fmt.Sprintf("%d active alerts reached global cap %d", active, d.opts.GlobalCap), nil)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
