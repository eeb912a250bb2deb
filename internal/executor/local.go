package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/models"
)

const defaultMaxOutput = 1 << 20

// LocalTransport runs commands on this host through the platform shell.
type LocalTransport struct {
	MaxOutput int
}

func (t LocalTransport) Run(ctx context.Context, conn Connection, command string) (*Result, error) {
	if command == "" {
		return nil, errors.New("command is required")
	}
	limit := t.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}

	cmd := shellCommand(ctx, conn.OS, command)
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("local exec: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	res.Success = res.ExitCode == 0
	return res, nil
}

func shellCommand(ctx context.Context, os, command string) *exec.Cmd {
	if os == models.OSWindows {
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	if l.truncated {
		return l.buf.String() + "\n[output truncated]"
	}
	return l.buf.String()
}
