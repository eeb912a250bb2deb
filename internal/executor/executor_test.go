package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// spyTransport records every command and answers from a prefix table.
type spyTransport struct {
	mu       sync.Mutex
	commands []string
	exits    map[string]int
	block    bool
}

func (s *spyTransport) Run(ctx context.Context, _ Connection, command string) (*Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	code := 0
	for prefix, c := range s.exits {
		if strings.HasPrefix(command, prefix) {
			code = c
		}
	}
	return &Result{Success: code == 0, ExitCode: code, Stdout: "freed 2048KB"}, nil
}

func (s *spyTransport) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func defaultPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Default()
	require.NoError(t, err)
	return p
}

func newTestExecutor(t *testing.T, spy *spyTransport) (*Executor, uuid.UUID) {
	t.Helper()
	reg := NewRegistry()
	serverID := uuid.New()
	require.NoError(t, reg.Register(context.Background(), Connection{
		ServerID: serverID,
		Type:     models.ConnSSH,
		SSH:      &SSHConfig{Host: "10.0.0.5", Username: "ops", Password: "secret"},
	}))
	return New(reg, map[string]Transport{models.ConnSSH: spy}), serverID
}

func restartAction(serverID uuid.UUID, service string) models.RemediationAction {
	return models.RemediationAction{
		ServerID:   serverID,
		ActionType: "restart_service",
		Parameters: datatypes.JSONMap{"service_name": service},
	}
}

func TestBuildCommandSubstitutesParameters(t *testing.T) {
	p := defaultPolicy(t)
	cmd, err := BuildCommand(p, restartAction(uuid.New(), "api"), models.OSLinux, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "systemctl restart api", cmd.Script)
	assert.Equal(t, []string{"systemctl cat api"}, cmd.SafetyChecks)
	assert.Equal(t, 120*time.Second, cmd.Timeout)
}

func TestBuildCommandUsesDefaultsAndWindowsTemplate(t *testing.T) {
	p := defaultPolicy(t)
	action := models.RemediationAction{ActionType: "restart_service", MaxExecutionSeconds: 15}
	cmd, err := BuildCommand(p, action, models.OSWindows, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "Restart-Service -Name nginx -Force", cmd.Script)
	assert.Equal(t, 15*time.Second, cmd.Timeout)
}

func TestBuildCommandErrors(t *testing.T) {
	p := defaultPolicy(t)

	_, err := BuildCommand(p, models.RemediationAction{ActionType: "format_disk"}, models.OSLinux, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = BuildCommand(p, models.RemediationAction{ActionType: "log_rotation"}, models.OSWindows, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = BuildCommand(p, restartAction(uuid.New(), "nginx; rm -rf /"), models.OSLinux, time.Minute)
	assert.ErrorIs(t, err, ErrUnsafeParameter)
}

func TestSubstitute(t *testing.T) {
	out, err := Substitute("find ${path} -mtime +${days}", map[string]string{"path": "/var/tmp", "days": "3"})
	require.NoError(t, err)
	assert.Equal(t, "find /var/tmp -mtime +3", out)

	_, err = Substitute("restart ${name} ${name} ${other}", map[string]string{})
	require.ErrorIs(t, err, ErrMissingParameter)
	assert.Contains(t, err.Error(), "name, other")

	for _, bad := range []string{"$(id)", "-rf", "../etc", "a|b", "x`y`"} {
		_, err = Substitute("ls ${p}", map[string]string{"p": bad})
		assert.ErrorIs(t, err, ErrUnsafeParameter, bad)
	}
}

func TestExecuteRunsSafetyChecksBeforeCommand(t *testing.T) {
	spy := &spyTransport{}
	ex, serverID := newTestExecutor(t, spy)

	run, err := ex.ExecuteAction(context.Background(), defaultPolicy(t), restartAction(serverID, "api"), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []string{"systemctl cat api", "systemctl restart api"}, spy.seen())
	require.Len(t, run.Checks, 1)
	assert.True(t, run.Result.Success)
}

func TestExecuteFailedSafetyCheckNeverDispatches(t *testing.T) {
	spy := &spyTransport{exits: map[string]int{"systemctl cat": 1}}
	ex, serverID := newTestExecutor(t, spy)

	run, err := ex.ExecuteAction(context.Background(), defaultPolicy(t), restartAction(serverID, "api"), time.Minute)
	require.ErrorIs(t, err, ErrSafetyCheck)

	assert.Equal(t, []string{"systemctl cat api"}, spy.seen())
	assert.Nil(t, run.Result)
}

func TestExecuteRejectsMutatingSafetyCheck(t *testing.T) {
	spy := &spyTransport{}
	ex, serverID := newTestExecutor(t, spy)

	cmd := Command{ActionType: "custom", Script: "systemctl restart api", SafetyChecks: []string{"rm -f /tmp/lock"}}
	_, err := ex.Execute(context.Background(), serverID, cmd)
	require.ErrorIs(t, err, ErrSafetyCheck)
	assert.Empty(t, spy.seen())
}

func TestExecuteNonZeroExit(t *testing.T) {
	spy := &spyTransport{exits: map[string]int{"systemctl restart": 3}}
	ex, serverID := newTestExecutor(t, spy)

	run, err := ex.ExecuteAction(context.Background(), defaultPolicy(t), restartAction(serverID, "api"), time.Minute)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, 3, run.Result.ExitCode)
}

func TestExecuteHonorsTimeout(t *testing.T) {
	spy := &spyTransport{block: true}
	ex, serverID := newTestExecutor(t, spy)

	_, err := ex.Execute(context.Background(), serverID, Command{Script: "sleep 60", Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecuteWithoutConnection(t *testing.T) {
	ex := New(NewRegistry(), map[string]Transport{})
	_, err := ex.ExecuteAction(context.Background(), defaultPolicy(t), restartAction(uuid.New(), "api"), time.Minute)
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestExecuteUnsupportedTransport(t *testing.T) {
	reg := NewRegistry()
	serverID := uuid.New()
	require.NoError(t, reg.Register(context.Background(), Connection{ServerID: serverID, Type: models.ConnLocal}))

	ex := New(reg, map[string]Transport{})
	_, err := ex.Execute(context.Background(), serverID, Command{Script: "true"})
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}

func TestRunReadOnlyRejectsMutation(t *testing.T) {
	spy := &spyTransport{}
	ex, serverID := newTestExecutor(t, spy)

	_, err := ex.RunReadOnly(context.Background(), serverID, "rm -rf /tmp/x", time.Second)
	assert.ErrorIs(t, err, ErrNotReadOnly)

	res, err := ex.RunReadOnly(context.Background(), serverID, "cat /proc/loadavg", time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"cat /proc/loadavg"}, spy.seen())
}

func TestImpactSummary(t *testing.T) {
	assert.Equal(t, "freed 512 KB", ImpactSummary("freed 512KB", time.Second))
	assert.Equal(t, "freed 2.0 MB", ImpactSummary("cleanup done\nfreed 2048KB\n", time.Second))
	assert.Equal(t, "freed 1.5 GB", ImpactSummary("Freed 1.5 GB", time.Second))
	assert.Equal(t, "completed in 2.5s", ImpactSummary("service restarted", 2500*time.Millisecond))
}
