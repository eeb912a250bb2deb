// Package executor runs remediation commands on remote hosts: a connection
// registry, OS-specific command templates, read-only safety checks that gate
// every mutating command, and one transport per connection type.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/google/uuid"
)

var (
	ErrNoConnection         = errors.New("no connection registered for server")
	ErrInvalidConnection    = errors.New("invalid connection")
	ErrUnsupportedTransport = errors.New("unsupported connection type")
	ErrSafetyCheck          = errors.New("safety check failed")
	ErrUnknownAction        = errors.New("no command template for action type")
	ErrMissingParameter     = errors.New("missing template parameter")
	ErrUnsafeParameter      = errors.New("unsafe template parameter")
	ErrNotReadOnly          = errors.New("command is not read-only")
	ErrCommandFailed        = errors.New("command exited non-zero")
	ErrTimeout              = errors.New("command timed out")
)

const safetyCheckTimeout = 30 * time.Second

// Result is the uniform outcome every transport returns.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Output joins stdout and stderr for storage.
func (r *Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Transport runs a single command over one connection type. A command that
// ran and exited non-zero is a Result, not an error.
type Transport interface {
	Run(ctx context.Context, conn Connection, command string) (*Result, error)
}

type CheckResult struct {
	Command string  `json:"command"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Execution is everything that happened for one Execute call.
type Execution struct {
	Command  Command       `json:"command"`
	Checks   []CheckResult `json:"checks"`
	Result   *Result       `json:"result,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Executor struct {
	registry   *Registry
	transports map[string]Transport
	checker    *ReadOnlyChecker
	now        func() time.Time
}

func New(registry *Registry, transports map[string]Transport) *Executor {
	return &Executor{
		registry:   registry,
		transports: transports,
		checker:    NewReadOnlyChecker(),
		now:        time.Now,
	}
}

func (e *Executor) Registry() *Registry { return e.registry }

// OSFor returns the registered operating system for a server.
func (e *Executor) OSFor(serverID uuid.UUID) (string, error) {
	conn, ok := e.registry.Get(serverID)
	if !ok {
		return "", ErrNoConnection
	}
	return conn.OS, nil
}

// ExecuteAction builds the action's command from the policy templates for the
// server's OS and executes it.
func (e *Executor) ExecuteAction(ctx context.Context, p *policy.Policy, action models.RemediationAction, defaultTimeout time.Duration) (*Execution, error) {
	conn, ok := e.registry.Get(action.ServerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, action.ServerID)
	}
	cmd, err := BuildCommand(p, action, conn.OS, defaultTimeout)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, conn, cmd)
}

// Execute runs every safety check, aborting on the first failure, then the
// mutating command under the command's hard timeout.
func (e *Executor) Execute(ctx context.Context, serverID uuid.UUID, cmd Command) (*Execution, error) {
	conn, ok := e.registry.Get(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, serverID)
	}
	return e.execute(ctx, conn, cmd)
}

func (e *Executor) execute(ctx context.Context, conn Connection, cmd Command) (*Execution, error) {
	transport, ok := e.transports[conn.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, conn.Type)
	}
	start := e.now()
	run := &Execution{Command: cmd}

	for _, check := range cmd.SafetyChecks {
		cr := CheckResult{Command: check}
		if err := e.checker.Verify(check, conn.OS); err != nil {
			cr.Error = err.Error()
			run.Checks = append(run.Checks, cr)
			return run, fmt.Errorf("%w: %q: %v", ErrSafetyCheck, check, err)
		}
		res, err := runWithTimeout(ctx, transport, conn, check, safetyCheckTimeout)
		cr.Result = res
		if err != nil {
			cr.Error = err.Error()
			run.Checks = append(run.Checks, cr)
			return run, fmt.Errorf("%w: %q: %v", ErrSafetyCheck, check, err)
		}
		run.Checks = append(run.Checks, cr)
		if !res.Success {
			return run, fmt.Errorf("%w: %q exited %d: %s", ErrSafetyCheck, check, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	slog.Info("Dispatching command", "server_id", conn.ServerID, "action_type", cmd.ActionType,
		"transport", conn.Type, "timeout", cmd.Timeout)
	res, err := runWithTimeout(ctx, transport, conn, cmd.Script, cmd.Timeout)
	run.Result = res
	run.Duration = e.now().Sub(start)
	if err != nil {
		return run, err
	}
	if !res.Success {
		return run, fmt.Errorf("%w: exit code %d", ErrCommandFailed, res.ExitCode)
	}
	return run, nil
}

// RunReadOnly runs a probe command after confirming it cannot change state.
func (e *Executor) RunReadOnly(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration) (*Result, error) {
	conn, ok := e.registry.Get(serverID)
	if !ok {
		return nil, ErrNoConnection
	}
	if err := e.checker.Verify(command, conn.OS); err != nil {
		return nil, err
	}
	transport, ok := e.transports[conn.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, conn.Type)
	}
	return runWithTimeout(ctx, transport, conn, command, timeout)
}

func runWithTimeout(ctx context.Context, t Transport, conn Connection, command string, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := t.Run(ctx, conn, command)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return res, err
	}
	if res == nil {
		return nil, errors.New("transport returned no result")
	}
	return res, nil
}
