package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

const namespace = "autoremedy"

var (
	agentCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_cycles_total",
			Help:      "Agent cycles, partitioned by agent and outcome.",
		},
		[]string{"agent", "outcome"},
	)

	agentCycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_cycle_seconds",
			Help:      "Agent cycle latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	breakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_trips_total",
			Help:      "Circuit breaker activations, partitioned by breaker.",
		},
		[]string{"breaker"},
	)

	aiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "Inference calls, partitioned by capability and outcome.",
		},
		[]string{"capability", "outcome"},
	)

	recommendationCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_cache_total",
			Help:      "Recommendation cache lookups, partitioned by result (hit|miss).",
		},
		[]string{"result"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation executions, partitioned by action type and outcome.",
		},
		[]string{"action_type", "outcome"},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Currently active alerts.",
		},
	)
)

// Register attaches collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		agentCyclesTotal,
		agentCycleSeconds,
		breakerTripsTotal,
		aiCallsTotal,
		recommendationCacheTotal,
		remediationsTotal,
		activeAlerts,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveCycle(agent string, duration time.Duration, outcome string) {
	agentCyclesTotal.WithLabelValues(agent, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	agentCycleSeconds.WithLabelValues(agent).Observe(duration.Seconds())
}

func BreakerTripped(breaker string) {
	breakerTripsTotal.WithLabelValues(breaker).Inc()
}

// ObserveAICall matches ai.CallObserver.
func ObserveAICall(capability, outcome string) {
	aiCallsTotal.WithLabelValues(capability, outcome).Inc()
}

func RecommendationCache(hit bool) {
	if hit {
		recommendationCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	recommendationCacheTotal.WithLabelValues("miss").Inc()
}

func ObserveRemediation(actionType, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	remediationsTotal.WithLabelValues(actionType, label).Inc()
}

func SetActiveAlerts(n int64) {
	activeAlerts.Set(float64(n))
}
