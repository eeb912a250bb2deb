package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// OpenAIClient implements Inference against any OpenAI-compatible chat
// completion endpoint, asking for JSON-object responses.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	usage   *UsageTracker
}

func NewOpenAIClient(cfg OpenAIConfig, usage *UsageTracker) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key not set", ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if usage == nil {
		usage = NewUsageTracker(nil)
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}

	ocfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		ocfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	slog.Info("Initializing inference client", "model", cfg.Model, "base_url", ocfg.BaseURL)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(ocfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		usage:   usage,
	}, nil
}

func (o *OpenAIClient) Usage() *UsageTracker { return o.usage }

const (
	systemAnomalies = `You are an SRE anomaly analyst. Given recent server metrics and a historical baseline, ` +
		`reply with JSON {"anomalies":[{"server_id","metric_type":"cpu|memory|disk|network_latency",` +
		`"severity":"warning|critical","actual_value","expected_value","deviation_score","description"}],"insights":""}. ` +
		`Only report genuine deviations.`
	systemRecommendations = `You are an SRE remediation planner. Given an alert, its server and metric history, reply with JSON ` +
		`{"recommendations":[{"title","description","action_type":"restart_service|cleanup_files|optimize_memory|clear_cache|optimize_cpu|log_rotation",` +
		`"confidence":0-100,"estimated_downtime":minutes,"requires_approval":bool,"parameters":{}}],"root_cause_analysis":""}.`
	systemPredictions = `You forecast server resource exhaustion. Given metric history, reply with JSON ` +
		`{"predictions":[{"metric_type","predicted_value","horizon_hours","probability":0-1,"recommendation":{...optional, same shape as a remediation recommendation}}]}.`
	systemRisk = `You assess operational risk of a remediation action. Reply with JSON ` +
		`{"risk_score":0-100,"risk_level":"low|medium|high","requires_approval":bool,"risk_factors":[],"mitigation_steps":[]}.`
	systemAuditInsights = `You summarize an infrastructure audit trail for compliance reviewers. Reply with JSON ` +
		`{"summary","key_findings":[],"recommendations":[],"compliance_status":"compliant|at_risk|non_compliant"}.`
)

func (o *OpenAIClient) AnalyzeAnomalies(ctx context.Context, req AnomalyRequest) (*AnomalyResult, error) {
	var out AnomalyResult
	if err := o.complete(ctx, CapAnalyzeAnomalies, systemAnomalies, req, &out, out.validate); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *OpenAIClient) GenerateRecommendations(ctx context.Context, req RecommendationRequest) (*RecommendationResult, error) {
	var out RecommendationResult
	if err := o.complete(ctx, CapGenerateRecommendations, systemRecommendations, req, &out, out.validate); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *OpenAIClient) GeneratePredictions(ctx context.Context, req PredictionRequest) (*PredictionResult, error) {
	var out PredictionResult
	if err := o.complete(ctx, CapGeneratePredictions, systemPredictions, req, &out, out.validate); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *OpenAIClient) AssessRisk(ctx context.Context, req RiskRequest) (*RiskResult, error) {
	var out RiskResult
	if err := o.complete(ctx, CapAssessRisk, systemRisk, req, &out, out.validate); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *OpenAIClient) GenerateAuditInsights(ctx context.Context, req AuditInsightsRequest) (*AuditInsights, error) {
	var out AuditInsights
	if err := o.complete(ctx, CapGenerateAuditInsights, systemAuditInsights, req, &out, out.validate); err != nil {
		return nil, err
	}
	return &out, nil
}

func (o *OpenAIClient) complete(ctx context.Context, capability, system string, input, out interface{}, validate func() error) (err error) {
	var promptTokens, completionTokens int
	defer func() { o.usage.Record(capability, promptTokens, completionTokens, err) }()

	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", capability, err)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", capability, err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("%s: inference call failed: %w", capability, err)
	}
	promptTokens = resp.Usage.PromptTokens
	completionTokens = resp.Usage.CompletionTokens

	if len(resp.Choices) == 0 {
		return fmt.Errorf("%s: %w: no choices", capability, ErrMalformedResponse)
	}
	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%s: %w: %v", capability, ErrMalformedResponse, err)
	}
	if err := validate(); err != nil {
		return fmt.Errorf("%s: %w", capability, err)
	}
	return nil
}

// stripFences removes a ```json fence some models wrap around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// IsMalformed reports whether err came from a response of the wrong shape.
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedResponse) }

var _ Inference = (*OpenAIClient)(nil)
var _ Inference = Disabled{}
