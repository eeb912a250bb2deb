package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	th, ok := p.ThresholdFor("production", models.MetricCPU)
	require.True(t, ok)
	assert.Equal(t, 90.0, th.Critical)

	sev, bound := th.Severity(96)
	assert.Equal(t, models.SeverityCritical, sev)
	assert.Equal(t, 90.0, bound)
	sev, _ = th.Severity(50)
	assert.Empty(t, sev)

	_, ok = p.ThresholdFor("qa", models.MetricDisk)
	assert.True(t, ok, "unknown environments fall back to dev")

	assert.Equal(t, 0.9, p.RecoveredRatio)
	assert.Equal(t, 10, p.Statistical.MinSamples)

	tpl, err := p.Template("restart_service")
	require.NoError(t, err)
	require.NotNil(t, tpl.For(models.OSLinux))
	assert.Contains(t, tpl.For(models.OSLinux).Command, "${service_name}")
	require.NotNil(t, tpl.For(models.OSWindows))

	_, err = p.Template("reformat_disk")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestMatchRuleOrdersBands(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	r, ok := p.MatchRule(models.MetricCPU, 96)
	require.True(t, ok)
	assert.Equal(t, "restart_service", r.ActionType)
	assert.True(t, r.RequiresApproval)
	assert.GreaterOrEqual(t, r.Confidence, 90.0)

	r, ok = p.MatchRule(models.MetricCPU, 88)
	require.True(t, ok)
	assert.Equal(t, "optimize_cpu", r.ActionType)

	r, ok = p.MatchRule(models.MetricDisk, 93)
	require.True(t, ok)
	assert.Equal(t, "cleanup_files", r.ActionType)

	_, ok = p.MatchRule(models.MetricCPU, 40)
	assert.False(t, ok)
}

func TestParseOverridesAndValidates(t *testing.T) {
	p, err := Parse([]byte(`
thresholds:
  prod:
    cpu: { warning: 60, critical: 70 }
compliance:
  passScore: 80
`))
	require.NoError(t, err)
	th, _ := p.ThresholdFor(models.EnvProd, models.MetricCPU)
	assert.Equal(t, 70.0, th.Critical)
	assert.Equal(t, 80, p.Compliance.PassScore)
	assert.NotEmpty(t, p.Templates, "templates come from the defaults")

	_, err = Parse([]byte(`thresholds: { prod: { cpu: { warning: 95, critical: 90 } } }`))
	assert.Error(t, err)

	_, err = Parse([]byte(`rules: [{ metric: cpu, above: 10, actionType: format_disk, confidence: 50 }]`))
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	_, err = Parse([]byte("thresholds: [not, a, map"))
	assert.Error(t, err)
}

func TestComplianceHelpers(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	c := p.Compliance

	assert.True(t, c.IsApproved("cleanup_files"))
	assert.False(t, c.IsApproved("restart_service"))
	assert.True(t, c.IsLowRisk("clear_cache"))

	match, ok := c.DangerousMatch("sudo RM -RF /var/lib")
	assert.True(t, ok)
	assert.Equal(t, "rm -rf", match)

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	assert.True(t, c.BusinessHours.Contains(monday))
	assert.False(t, c.BusinessHours.Contains(monday.Add(10*time.Hour)))
	assert.False(t, c.BusinessHours.Contains(monday.AddDate(0, 0, 5)))
}

func TestStoreReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recoveredRatio: 0.8\n"), 0o600))

	s, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, s.Current().RecoveredRatio)
	var hooked []float64
	s.OnReload(func(p *Policy) { hooked = append(hooked, p.RecoveredRatio) })

	require.NoError(t, os.WriteFile(path, []byte("recoveredRatio: 7\n"), 0o600))
	assert.Error(t, s.Reload())
	assert.Equal(t, 0.8, s.Current().RecoveredRatio)

	require.NoError(t, os.WriteFile(path, []byte("recoveredRatio: 0.7\n"), 0o600))
	require.NoError(t, s.Reload())
	assert.Equal(t, 0.7, s.Current().RecoveredRatio)
	assert.EqualValues(t, 1, s.Reloads())
	assert.Equal(t, []float64{0.7}, hooked)
}

func TestWatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recoveredRatio: 0.8\n"), 0o600))

	s, err := NewStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("recoveredRatio: 0.5\n"), 0o600))

	assert.Eventually(t, func() bool {
		return s.Current().RecoveredRatio == 0.5
	}, 5*time.Second, 50*time.Millisecond)
}
