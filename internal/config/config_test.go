package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8097", cfg.Port)
	assert.Equal(t, 8, cfg.GlobalAlertCap)
	assert.Equal(t, 2, cfg.PerServerAlertCap)
	assert.Equal(t, 50, cfg.DailyActionCap)
	assert.Equal(t, 10*time.Minute, cfg.RecommendMinInterval)
	assert.Equal(t, 30*time.Minute, cfg.RecommendCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.AlertTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GLOBAL_ALERT_CAP", "3")
	t.Setenv("DETECT_INTERVAL", "15s")
	t.Setenv("COLLECT_INTERVAL", "45")
	t.Setenv("AI_DETECTION", "false")
	t.Setenv("PER_SERVER_ALERT_CAP", "not-a-number")

	cfg := Load()

	assert.Equal(t, 3, cfg.GlobalAlertCap)
	assert.Equal(t, 15*time.Second, cfg.DetectInterval)
	assert.Equal(t, 45*time.Second, cfg.CollectInterval)
	assert.False(t, cfg.AIDetection)
	assert.Equal(t, 2, cfg.PerServerAlertCap)
}
