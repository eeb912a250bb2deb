package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 12, "total_tokens": 52},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: url, Model: "test-model"}, nil)
	require.NoError(t, err)
	return c
}

func TestGenerateRecommendationsDecodes(t *testing.T) {
	var calls atomic.Int32
	content := "```json\n" + `{"recommendations":[{"title":"Restart nginx","action_type":"restart_service","confidence":92,"estimated_downtime":2,"requires_approval":true,"parameters":{"service_name":"nginx"}}],"root_cause_analysis":"worker leak"}` + "\n```"
	srv := chatServer(t, content, &calls)
	c := newTestClient(t, srv.URL)

	res, err := c.GenerateRecommendations(context.Background(), RecommendationRequest{
		Alert: models.Alert{MetricType: models.MetricCPU, Severity: models.SeverityCritical, MetricValue: 96},
	})
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "restart_service", res.Recommendations[0].ActionType)
	assert.Equal(t, "nginx", res.Recommendations[0].Parameters["service_name"])
	assert.Equal(t, "worker leak", res.RootCauseAnalysis)

	usage := c.Usage().Snapshot()
	require.Len(t, usage, 1)
	assert.EqualValues(t, 1, usage[0].Calls)
	assert.EqualValues(t, 40, usage[0].PromptTokens)
	assert.EqualValues(t, 1, calls.Load())
}

func TestMalformedResponseIsReported(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, `{"risk_score": 400}`, &calls)
	c := newTestClient(t, srv.URL)

	_, err := c.AssessRisk(context.Background(), RiskRequest{})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))

	srv2 := chatServer(t, `not json`, &calls)
	c2 := newTestClient(t, srv2.URL)
	_, err = c2.AnalyzeAnomalies(context.Background(), AnomalyRequest{})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	usage := c2.Usage().Snapshot()
	require.Len(t, usage, 1)
	assert.EqualValues(t, 1, usage[0].Failures)
}

func TestAnomalyValidation(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, `{"anomalies":[{"server_id":"s1","metric_type":"cpu","severity":"bogus"}]}`, &calls)
	c := newTestClient(t, srv.URL)

	_, err := c.AnalyzeAnomalies(context.Background(), AnomalyRequest{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDisabled(t *testing.T) {
	var inf Inference = Disabled{}
	_, err := inf.GeneratePredictions(context.Background(), PredictionRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUsageTrackerObserver(t *testing.T) {
	var outcomes []string
	tr := NewUsageTracker(func(capability, outcome string) { outcomes = append(outcomes, capability+":"+outcome) })
	tr.Record(CapAssessRisk, 1, 1, nil)
	tr.Record(CapAssessRisk, 1, 1, ErrUnavailable)

	assert.Equal(t, []string{"assess_risk:success", "assess_risk:failure"}, outcomes)
	assert.EqualValues(t, 2, tr.Calls(CapAssessRisk))
	assert.EqualValues(t, 0, tr.Calls(CapGeneratePredictions))
}
