// Package ai is the inference contract the agents consume, one
// request/response shape per capability. Every caller has a non-AI fallback,
// so implementations are free to fail.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
)

var (
	// ErrUnavailable means no inference backend is configured.
	ErrUnavailable = errors.New("inference unavailable")
	// ErrMalformedResponse means the backend answered with the wrong shape.
	ErrMalformedResponse = errors.New("malformed inference response")
)

const (
	CapAnalyzeAnomalies        = "analyze_anomalies"
	CapGenerateRecommendations = "generate_recommendations"
	CapGeneratePredictions     = "generate_predictions"
	CapAssessRisk              = "assess_risk"
	CapGenerateAuditInsights   = "generate_audit_insights"
)

type Inference interface {
	AnalyzeAnomalies(ctx context.Context, req AnomalyRequest) (*AnomalyResult, error)
	GenerateRecommendations(ctx context.Context, req RecommendationRequest) (*RecommendationResult, error)
	GeneratePredictions(ctx context.Context, req PredictionRequest) (*PredictionResult, error)
	AssessRisk(ctx context.Context, req RiskRequest) (*RiskResult, error)
	GenerateAuditInsights(ctx context.Context, req AuditInsightsRequest) (*AuditInsights, error)
}

// ─── Anomalies ──────────────────────────────────────────────────────────────

type AnomalyRequest struct {
	Metrics []models.Metric `json:"metrics"`
	History []models.Metric `json:"history"`
}

type AnomalyFinding struct {
	ServerID       string  `json:"server_id"`
	MetricType     string  `json:"metric_type"`
	Severity       string  `json:"severity"`
	ActualValue    float64 `json:"actual_value"`
	ExpectedValue  float64 `json:"expected_value"`
	DeviationScore float64 `json:"deviation_score"`
	Description    string  `json:"description"`
}

type AnomalyResult struct {
	Anomalies []AnomalyFinding `json:"anomalies"`
	Insights  string           `json:"insights"`
}

func (r *AnomalyResult) validate() error {
	for i, a := range r.Anomalies {
		if a.ServerID == "" || a.MetricType == "" {
			return fmt.Errorf("%w: anomalies[%d] missing server_id or metric_type", ErrMalformedResponse, i)
		}
		if models.SeverityRank(a.Severity) == 0 {
			return fmt.Errorf("%w: anomalies[%d] severity %q", ErrMalformedResponse, i, a.Severity)
		}
	}
	return nil
}

// ─── Recommendations ────────────────────────────────────────────────────────

type RecommendationRequest struct {
	Alert   models.Alert    `json:"alert"`
	Server  models.Server   `json:"server"`
	History []models.Metric `json:"history"`
}

type Recommendation struct {
	Title             string                 `json:"title"`
	Description       string                 `json:"description"`
	ActionType        string                 `json:"action_type"`
	Confidence        float64                `json:"confidence"`
	EstimatedDowntime int                    `json:"estimated_downtime"`
	RequiresApproval  bool                   `json:"requires_approval"`
	Parameters        map[string]interface{} `json:"parameters"`
}

func (r Recommendation) validate() error {
	if r.ActionType == "" || r.Title == "" {
		return fmt.Errorf("%w: recommendation missing action_type or title", ErrMalformedResponse)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, r.Confidence)
	}
	if r.EstimatedDowntime < 0 {
		return fmt.Errorf("%w: negative downtime", ErrMalformedResponse)
	}
	return nil
}

type RecommendationResult struct {
	Recommendations   []Recommendation `json:"recommendations"`
	RootCauseAnalysis string           `json:"root_cause_analysis"`
}

func (r *RecommendationResult) validate() error {
	for _, rec := range r.Recommendations {
		if err := rec.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ─── Predictions ────────────────────────────────────────────────────────────

type PredictionRequest struct {
	Server  models.Server   `json:"server"`
	History []models.Metric `json:"history"`
}

type Prediction struct {
	MetricType     string          `json:"metric_type"`
	PredictedValue float64         `json:"predicted_value"`
	HorizonHours   float64         `json:"horizon_hours"`
	Probability    float64         `json:"probability"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

type PredictionResult struct {
	Predictions []Prediction `json:"predictions"`
}

func (r *PredictionResult) validate() error {
	for i, p := range r.Predictions {
		if p.MetricType == "" {
			return fmt.Errorf("%w: predictions[%d] missing metric_type", ErrMalformedResponse, i)
		}
		if p.Recommendation != nil {
			if err := p.Recommendation.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ─── Risk ───────────────────────────────────────────────────────────────────

type RiskRequest struct {
	Action models.RemediationAction `json:"action"`
	Server models.Server            `json:"server"`
}

type RiskResult struct {
	RiskScore        int      `json:"risk_score"`
	RiskLevel        string   `json:"risk_level"`
	RequiresApproval bool     `json:"requires_approval"`
	RiskFactors      []string `json:"risk_factors"`
	MitigationSteps  []string `json:"mitigation_steps"`
}

func (r *RiskResult) validate() error {
	if r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("%w: risk_score %d out of range", ErrMalformedResponse, r.RiskScore)
	}
	return nil
}

// ─── Audit insights ─────────────────────────────────────────────────────────

type AuditInsightsRequest struct {
	Logs      []models.AuditLog `json:"logs"`
	Timeframe string            `json:"timeframe"`
}

type AuditInsights struct {
	Summary          string   `json:"summary"`
	KeyFindings      []string `json:"key_findings"`
	Recommendations  []string `json:"recommendations"`
	ComplianceStatus string   `json:"compliance_status"`
}

func (r *AuditInsights) validate() error {
	if r.Summary == "" {
		return fmt.Errorf("%w: empty summary", ErrMalformedResponse)
	}
	return nil
}

// ─── Disabled ───────────────────────────────────────────────────────────────

// Disabled fails every capability with ErrUnavailable.
type Disabled struct{}

func (Disabled) AnalyzeAnomalies(context.Context, AnomalyRequest) (*AnomalyResult, error) {
	return nil, ErrUnavailable
}

func (Disabled) GenerateRecommendations(context.Context, RecommendationRequest) (*RecommendationResult, error) {
	return nil, ErrUnavailable
}

func (Disabled) GeneratePredictions(context.Context, PredictionRequest) (*PredictionResult, error) {
	return nil, ErrUnavailable
}

func (Disabled) AssessRisk(context.Context, RiskRequest) (*RiskResult, error) {
	return nil, ErrUnavailable
}

func (Disabled) GenerateAuditInsights(context.Context, AuditInsightsRequest) (*AuditInsights, error) {
	return nil, ErrUnavailable
}

// Timeframe renders a trailing window for audit insight requests.
func Timeframe(since, until time.Time) string {
	return fmt.Sprintf("%s/%s", since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339))
}
