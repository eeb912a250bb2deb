package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/masterzen/winrm"
)

// WinRMTransport runs PowerShell over Windows Remote Management.
type WinRMTransport struct {
	Timeout time.Duration
}

func (t WinRMTransport) Run(ctx context.Context, conn Connection, command string) (*Result, error) {
	cfg := conn.WinRM
	if cfg == nil {
		return nil, fmt.Errorf("%w: winrm config missing", ErrInvalidConnection)
	}
	timeout := t.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	endpoint := winrm.NewEndpoint(cfg.Host, cfg.Port, cfg.HTTPS, cfg.Insecure, nil, nil, nil, timeout)
	client, err := winrm.NewClient(endpoint, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("winrm client: %w", err)
	}

	start := time.Now()
	stdout, stderr, code, err := client.RunWithContextWithString(ctx, winrm.Powershell(command), "")
	res := &Result{ExitCode: code, Stdout: stdout, Stderr: stderr, Duration: time.Since(start)}
	if err != nil {
		return res, fmt.Errorf("winrm run: %w", err)
	}
	res.Success = code == 0
	return res, nil
}
