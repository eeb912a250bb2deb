package workflow

import (
	"fmt"
	"math"

	"github.com/ahmetk3436/autoremedy/internal/ai"
	"github.com/ahmetk3436/autoremedy/internal/models"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	TierLow    = "low"
	TierMedium = "medium"
	TierHigh   = "high"
)

type Risk struct {
	Score           int      `json:"score"`
	Level           string   `json:"level"`
	Factors         []string `json:"factors"`
	MitigationSteps []string `json:"mitigation_steps,omitempty"`
	Source          string   `json:"source"` // heuristic, ai
}

var criticalityWeight = map[string]float64{
	models.CriticalityLow:      0,
	models.CriticalityMedium:   10,
	models.CriticalityHigh:     20,
	models.CriticalityCritical: 30,
}

// ScoreRisk combines uncertainty (up to 40), downtime (up to 30) and server
// criticality (up to 30) into 0-100.
func ScoreRisk(action models.RemediationAction, server *models.Server, criticalPatterns []string) Risk {
	r := Risk{Source: "heuristic"}

	uncertainty := (100 - clamp(action.Confidence, 0, 100)) * 0.4
	if uncertainty >= 10 {
		r.Factors = append(r.Factors, fmt.Sprintf("confidence %.0f%%", action.Confidence))
	}
	downtime := clamp(float64(action.EstimatedDowntime), 0, 60) * 0.5
	if action.EstimatedDowntime > 0 {
		r.Factors = append(r.Factors, fmt.Sprintf("estimated downtime %d min", action.EstimatedDowntime))
	}
	crit := models.CriticalityLow
	if server != nil {
		crit = server.CriticalityLevel(criticalPatterns)
	}
	if crit != models.CriticalityLow {
		r.Factors = append(r.Factors, crit+" criticality server")
	}

	r.Score = int(math.Round(uncertainty + downtime + criticalityWeight[crit]))
	r.Level = riskLevel(r.Score)
	return r
}

// Blend keeps the higher of the heuristic and the inference score.
func (r Risk) Blend(res *ai.RiskResult) Risk {
	if res == nil {
		return r
	}
	out := r
	out.Factors = append(append([]string(nil), r.Factors...), res.RiskFactors...)
	out.MitigationSteps = res.MitigationSteps
	if res.RiskScore > r.Score {
		out.Score = res.RiskScore
		out.Source = "ai"
	}
	out.Level = riskLevel(out.Score)
	return out
}

func riskLevel(score int) string {
	switch {
	case score >= 80:
		return RiskHigh
	case score >= 50:
		return RiskMedium
	}
	return RiskLow
}

// SelectTier picks the approval depth for an action.
func SelectTier(risk Risk, server *models.Server, criticalPatterns []string) string {
	crit := models.CriticalityLow
	prod := false
	if server != nil {
		crit = server.CriticalityLevel(criticalPatterns)
		prod = server.IsProduction()
	}
	switch {
	case risk.Score >= 80 || crit == models.CriticalityCritical || prod:
		return TierHigh
	case risk.Score >= 50 || crit == models.CriticalityHigh:
		return TierMedium
	}
	return TierLow
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
