package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(breakerTripsTotal.WithLabelValues("global_alert_cap"))
	BreakerTripped("global_alert_cap")
	assert.Equal(t, before+1, testutil.ToFloat64(breakerTripsTotal.WithLabelValues("global_alert_cap")))

	ObserveRemediation("cleanup_files", "weird")
	assert.GreaterOrEqual(t, testutil.ToFloat64(remediationsTotal.WithLabelValues("cleanup_files", OutcomeSuccess)), 1.0)

	ObserveCycle("detector", -time.Second, OutcomeSkipped)
	assert.GreaterOrEqual(t, testutil.ToFloat64(agentCyclesTotal.WithLabelValues("detector", OutcomeSkipped)), 1.0)

	SetActiveAlerts(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(activeAlerts))

	RecommendationCache(true)
	RecommendationCache(false)
	assert.GreaterOrEqual(t, testutil.ToFloat64(recommendationCacheTotal.WithLabelValues("hit")), 1.0)
}
