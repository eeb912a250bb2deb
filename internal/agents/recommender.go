package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/cache"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/lock"
	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const RecommenderID = "recommendation-engine"

const breakerDailyActions = "daily_action_cap"

// minPredictionProbability is the floor below which a forecast is ignored.
const minPredictionProbability = 0.7

// OSResolver reports the operating system of a server's registered
// connection. The executor satisfies it.
type OSResolver interface {
	OSFor(serverID uuid.UUID) (string, error)
}

type RecommenderOptions struct {
	Interval            time.Duration
	MinInterval         time.Duration
	CacheTTL            time.Duration
	DailyCap            int
	DefaultMaxExecution time.Duration
	OS                  OSResolver
}

// Recommender proposes one remediation action per actionable alert, and
// proactive actions for servers trending toward trouble.
type Recommender struct {
	*runner
	deps  Deps
	opts  RecommenderOptions
	audit *audit.Recorder
	locks *lock.Keyed

	recs      *cache.TTL[string, []ai.Recommendation]
	seen      *cache.TTL[uuid.UUID, string]
	predicted *cache.TTL[uuid.UUID, struct{}]
	daily     *DailyBreaker
	tripped   latch

	lastRun time.Time
	aiCalls atomic.Int64
}

func NewRecommender(deps Deps, opts RecommenderOptions) *Recommender {
	r := &Recommender{deps: deps.withDefaults(), opts: opts, locks: lock.NewKeyed()}
	r.audit = r.deps.recorder()
	r.recs = cache.NewTTL[string, []ai.Recommendation](opts.CacheTTL).WithClock(r.deps.Now)
	r.seen = cache.NewTTL[uuid.UUID, string](24 * time.Hour).WithClock(r.deps.Now)
	r.predicted = cache.NewTTL[uuid.UUID, struct{}](opts.CacheTTL).WithClock(r.deps.Now)
	r.daily = NewDailyBreaker(opts.DailyCap, r.deps.Now)
	r.runner = newRunner(RecommenderID, "Recommendation Engine", "recommender", opts.Interval, r.recommend)
	return r
}

// AICalls counts recommendation and prediction requests sent to inference.
func (r *Recommender) AICalls() int64 { return r.aiCalls.Load() }

// Daily exposes the action-cap breaker.
func (r *Recommender) Daily() *DailyBreaker { return r.daily }

func alertSignature(a models.Alert) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%.1f", a.ServerID, a.MetricType, a.Severity, a.MetricValue)))
	return hex.EncodeToString(sum[:])
}

func cacheKey(a models.Alert) string {
	return a.ServerID.String() + "|" + a.MetricType + "|" + a.Severity
}

func openKey(serverID uuid.UUID, alertID *uuid.UUID, actionType string) string {
	if alertID == nil {
		return serverID.String() + "|proactive|" + actionType
	}
	return serverID.String() + "|" + alertID.String()
}

func (r *Recommender) recommend(ctx context.Context) error {
	now := r.deps.Now()
	if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.opts.MinInterval {
		return skipped("last run %s ago, minimum interval %s", now.Sub(r.lastRun).Round(time.Second), r.opts.MinInterval)
	}
	r.lastRun = now
	p := r.deps.Policy.Current()

	alerts, err := r.deps.Store.GetActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list active alerts: %w", err)
	}
	open, err := r.deps.Store.ListRemediationActions(ctx, store.ActionFilter{Statuses: models.OpenActionStatuses})
	if err != nil {
		return fmt.Errorf("list open actions: %w", err)
	}
	covered := make(map[uuid.UUID]bool, len(open))
	for _, a := range open {
		if a.AlertID != nil {
			covered[*a.AlertID] = true
		}
	}

	servers, err := r.serverIndex(ctx)
	if err != nil {
		return err
	}

	created := 0
	for _, alert := range alerts {
		if covered[alert.ID] {
			continue
		}
		sig := alertSignature(alert)
		if prev, ok := r.seen.Get(alert.ID); ok && prev == sig {
			continue
		}
		server, ok := servers[alert.ServerID]
		if !ok {
			continue
		}

		action, err := r.actionFor(ctx, p, alert, server)
		if err != nil {
			slog.Warn("No applicable recommendation", "alert_id", alert.ID, "metric", alert.MetricType, "error", err)
			r.audit.Record(ctx, audit.Entry{
				AgentID:  RecommenderID,
				ServerID: audit.ServerRef(alert.ServerID),
				Action:   audit.ActionRecommended,
				Details:  fmt.Sprintf("no applicable recommendation for %s: %v", alert.Title, err),
				Status:   models.AuditFailed,
				Metadata: map[string]interface{}{"alert_id": alert.ID.String()},
			})
			r.seen.Set(alert.ID, sig)
			continue
		}

		ok, err = r.persist(ctx, action, server)
		if errors.Is(err, errDailyCap) {
			break
		}
		if err != nil {
			slog.Error("Failed to create remediation action", "alert_id", alert.ID, "error", err)
			r.addError(err)
			continue
		}
		r.seen.Set(alert.ID, sig)
		if ok {
			created++
		}
	}

	if !r.tripped.isOpen() {
		created += r.proactive(ctx, p, servers)
	}
	r.addProcessed(created)
	return nil
}

func (r *Recommender) serverIndex(ctx context.Context) (map[uuid.UUID]models.Server, error) {
	list, err := r.deps.Store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	out := make(map[uuid.UUID]models.Server, len(list))
	for _, s := range list {
		out[s.ID] = s
	}
	return out, nil
}

// candidates returns cached recommendations for the alert's key, calling
// inference on a miss.
func (r *Recommender) candidates(ctx context.Context, alert models.Alert, server models.Server) []ai.Recommendation {
	key := cacheKey(alert)
	if recs, ok := r.recs.Get(key); ok {
		metrics.RecommendationCache(true)
		return recs
	}
	metrics.RecommendationCache(false)

	history, err := r.deps.Store.RecentMetrics(ctx, server.ID, 20)
	if err != nil {
		slog.Warn("Failed to load metric history", "server", server.Hostname, "error", err)
	}
	r.aiCalls.Add(1)
	res, err := r.deps.AI.GenerateRecommendations(ctx, ai.RecommendationRequest{Alert: alert, Server: server, History: history})
	if err != nil {
		if !errors.Is(err, ai.ErrUnavailable) {
			slog.Warn("Recommendation inference failed, using rule table", "alert_id", alert.ID, "error", err)
		}
		return nil
	}
	r.recs.Set(key, res.Recommendations)
	return res.Recommendations
}

// actionFor picks the highest-confidence recommendation whose action type
// renders against the policy templates, falling back to the rule table.
func (r *Recommender) actionFor(ctx context.Context, p *policy.Policy, alert models.Alert, server models.Server) (*models.RemediationAction, error) {
	alertID := alert.ID
	var best *models.RemediationAction
	for _, rec := range r.candidates(ctx, alert, server) {
		a := actionFromRecommendation(rec, server.ID, &alertID)
		if err := r.render(p, a); err != nil {
			slog.Debug("Skipping recommendation", "action_type", rec.ActionType, "error", err)
			continue
		}
		if best == nil || a.Confidence > best.Confidence {
			best = a
		}
	}
	if best != nil {
		return best, nil
	}

	rule, ok := p.MatchRule(alert.MetricType, alert.MetricValue)
	if !ok {
		return nil, fmt.Errorf("no rule for %s at %.1f", alert.MetricType, alert.MetricValue)
	}
	a := actionFromRule(rule, server.ID, &alertID)
	if err := r.render(p, a); err != nil {
		return nil, err
	}
	return a, nil
}

// render fills the command and execution budget from the template for the
// server's OS, defaulting to linux when no connection is registered yet.
func (r *Recommender) render(p *policy.Policy, a *models.RemediationAction) error {
	os := models.OSLinux
	if r.opts.OS != nil {
		if got, err := r.opts.OS.OSFor(a.ServerID); err == nil {
			os = got
		}
	}
	cmd, err := executor.BuildCommand(p, *a, os, r.opts.DefaultMaxExecution)
	if err != nil {
		return err
	}
	a.Command = cmd.Script
	a.MaxExecutionSeconds = int(cmd.Timeout.Seconds())
	return nil
}

var errDailyCap = errors.New("daily action cap reached")

// persist creates the action unless an open one already exists for the same
// (server, alert), consuming one unit of the daily cap.
func (r *Recommender) persist(ctx context.Context, action *models.RemediationAction, server models.Server) (bool, error) {
	window, ok := r.daily.Take()
	if !ok {
		if r.tripped.trip() {
			tripBreaker(ctx, r.deps, r.audit, RecommenderID, breakerDailyActions,
				fmt.Sprintf("daily action cap %d reached", r.daily.Limit()),
				map[string]interface{}{"limit": r.daily.Limit(), "resets_at": r.daily.ResetsAt()})
		}
		return false, errDailyCap
	}
	r.tripped.reset()

	unlock := r.locks.Lock(openKey(action.ServerID, action.AlertID, action.ActionType))
	defer unlock()

	if _, err := r.deps.Store.FindOpenAction(ctx, action.ServerID, action.AlertID, action.ActionType); err == nil {
		r.daily.Refund(window)
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		r.daily.Refund(window)
		return false, fmt.Errorf("find open action: %w", err)
	}

	if err := r.deps.Store.CreateRemediationAction(ctx, action); err != nil {
		r.daily.Refund(window)
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("create action: %w", err)
	}

	slog.Info("Remediation recommended", "action_id", action.ID, "server", server.Hostname,
		"action_type", action.ActionType, "confidence", action.Confidence)
	meta := map[string]interface{}{
		"action_id":   action.ID.String(),
		"action_type": action.ActionType,
		"confidence":  action.Confidence,
	}
	if action.AlertID != nil {
		meta["alert_id"] = action.AlertID.String()
	} else {
		meta["proactive"] = true
	}
	r.audit.Record(ctx, audit.Entry{
		AgentID:  RecommenderID,
		ServerID: audit.ServerRef(action.ServerID),
		Action:   audit.ActionRecommended,
		Details:  action.Title,
		Status:   models.AuditPending,
		Metadata: meta,
	})
	r.deps.Events.Publish(events.RemediationStatus, map[string]interface{}{
		"action_id": action.ID, "server_id": action.ServerID, "status": action.Status,
		"action_type": action.ActionType,
	})
	return true, nil
}

// proactive asks for forecasts on servers in warning status, at most once
// per server per cache TTL.
func (r *Recommender) proactive(ctx context.Context, p *policy.Policy, servers map[uuid.UUID]models.Server) int {
	created := 0
	for _, server := range servers {
		if server.Status != models.ServerWarning {
			continue
		}
		if _, ok := r.predicted.Get(server.ID); ok {
			continue
		}
		r.predicted.Set(server.ID, struct{}{})

		history, err := r.deps.Store.RecentMetrics(ctx, server.ID, 20)
		if err != nil || len(history) == 0 {
			continue
		}
		r.aiCalls.Add(1)
		res, err := r.deps.AI.GeneratePredictions(ctx, ai.PredictionRequest{Server: server, History: history})
		if err != nil {
			if !errors.Is(err, ai.ErrUnavailable) {
				slog.Warn("Prediction inference failed", "server", server.Hostname, "error", err)
			}
			continue
		}
		for _, pred := range res.Predictions {
			if pred.Recommendation == nil || pred.Probability < minPredictionProbability {
				continue
			}
			a := actionFromRecommendation(*pred.Recommendation, server.ID, nil)
			a.Description = fmt.Sprintf("%s (forecast %s %.1f within %.0fh, p=%.2f)",
				a.Description, pred.MetricType, pred.PredictedValue, pred.HorizonHours, pred.Probability)
			if err := r.render(p, a); err != nil {
				continue
			}
			ok, err := r.persist(ctx, a, server)
			if errors.Is(err, errDailyCap) {
				return created
			}
			if err != nil {
				slog.Error("Failed to create proactive action", "server", server.Hostname, "error", err)
				r.addError(err)
				continue
			}
			if ok {
				created++
			}
		}
	}
	return created
}

func actionFromRecommendation(rec ai.Recommendation, serverID uuid.UUID, alertID *uuid.UUID) *models.RemediationAction {
	a := &models.RemediationAction{
		AlertID:           alertID,
		ServerID:          serverID,
		AgentID:           RecommenderID,
		Title:             rec.Title,
		Description:       rec.Description,
		ActionType:        rec.ActionType,
		Confidence:        rec.Confidence,
		EstimatedDowntime: rec.EstimatedDowntime,
		RequiresApproval:  rec.RequiresApproval,
		Status:            models.ActionPending,
	}
	if len(rec.Parameters) > 0 {
		a.Parameters = datatypes.JSONMap(rec.Parameters)
	}
	return a
}

func actionFromRule(rule policy.Rule, serverID uuid.UUID, alertID *uuid.UUID) *models.RemediationAction {
	a := &models.RemediationAction{
		AlertID:           alertID,
		ServerID:          serverID,
		AgentID:           RecommenderID,
		Title:             rule.Title,
		Description:       rule.Description,
		ActionType:        rule.ActionType,
		Confidence:        rule.Confidence,
		EstimatedDowntime: rule.EstimatedDowntime,
		RequiresApproval:  rule.RequiresApproval,
		Status:            models.ActionPending,
	}
	if len(rule.Parameters) > 0 {
		a.Parameters = datatypes.JSONMap{}
		for k, v := range rule.Parameters {
			a.Parameters[k] = v
		}
	}
	return a
}
