package executor

import (
	"fmt"
	"strings"

	"github.com/ahmetk3436/autoremedy/internal/models"
)

// ReadOnlyChecker decides whether a command only inspects state. Safety
// checks and telemetry probes must pass it before they are dispatched.
type ReadOnlyChecker struct {
	safeCommands      map[string]bool
	dangerousCommands map[string]bool
	safeSystemctl     map[string]bool
	safePowerShell    []string
}

func NewReadOnlyChecker() *ReadOnlyChecker {
	return &ReadOnlyChecker{
		safeCommands: map[string]bool{
			// System info
			"ls": true, "ps": true, "df": true, "free": true, "uptime": true,
			"whoami": true, "pwd": true, "hostname": true, "uname": true,
			"id": true, "date": true, "top": true, "nproc": true, "vmstat": true,
			"iostat": true, "mpstat": true,

			// File reading
			"cat": true, "head": true, "tail": true, "grep": true, "awk": true,
			"find": true, "wc": true, "du": true, "stat": true, "cut": true,
			"sort": true, "tr": true,

			// Network diagnostics
			"ping": true, "ss": true, "netstat": true, "ip": true,

			// Process inspection
			"pgrep": true, "pidof": true, "lsof": true,

			// Service inspection, validated with args below
			"systemctl": true, "logrotate": true,

			"which": true, "echo": true, "test": true, "[": true, "true": true,
			"printf": true, "sleep": true,
		},
		dangerousCommands: map[string]bool{
			"rm": true, "mv": true, "cp": true, "touch": true, "mkdir": true,
			"rmdir": true, "chmod": true, "chown": true, "ln": true, "truncate": true,
			"dd": true, "mkfs": true, "fdisk": true, "mount": true, "umount": true,
			"reboot": true, "shutdown": true, "poweroff": true, "halt": true, "init": true,
			"kill": true, "killall": true, "pkill": true, "renice": true,
			"apt": true, "apt-get": true, "yum": true, "dnf": true,
			"curl": true, "wget": true, "sudo": true, "su": true, "tee": true,
			"sed": true, "sync": true,
		},
		safeSystemctl: map[string]bool{
			"status": true, "is-active": true, "is-enabled": true,
			"is-failed": true, "show": true, "cat": true, "list-units": true,
		},
		safePowerShell: []string{"get-", "test-", "measure-", "select-", "where-object", "format-", "write-output"},
	}
}

// Verify returns ErrNotReadOnly unless every pipeline segment of command is a
// known inspection command.
func (c *ReadOnlyChecker) Verify(command, os string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("%w: empty command", ErrNotReadOnly)
	}
	if strings.ContainsAny(command, ">`") || strings.Contains(command, "$(") {
		return fmt.Errorf("%w: redirection or substitution in %q", ErrNotReadOnly, command)
	}
	for _, segment := range splitSegments(command) {
		var ok bool
		if os == models.OSWindows {
			ok = c.powerShellReadOnly(segment)
		} else {
			ok = c.shellReadOnly(segment)
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotReadOnly, segment)
		}
	}
	return nil
}

func (c *ReadOnlyChecker) shellReadOnly(segment string) bool {
	base, args := parseCommand(segment)
	if base == "" {
		return false
	}
	switch base {
	case "systemctl":
		return len(args) > 0 && c.safeSystemctl[args[0]]
	case "find":
		for _, a := range args {
			if a == "-delete" || a == "-exec" || a == "-execdir" || a == "-fprint" {
				return false
			}
		}
		return true
	case "logrotate":
		// Only the debug/dry-run mode is read-only.
		for _, a := range args {
			if a == "-d" || a == "--debug" {
				return true
			}
		}
		return false
	}
	if c.dangerousCommands[base] {
		return false
	}
	return c.safeCommands[base]
}

func (c *ReadOnlyChecker) powerShellReadOnly(segment string) bool {
	fields := strings.Fields(strings.ToLower(segment))
	if len(fields) == 0 {
		return false
	}
	for _, prefix := range c.safePowerShell {
		if strings.HasPrefix(fields[0], prefix) {
			return true
		}
	}
	return false
}

// parseCommand extracts the base command, dropping any path prefix.
func parseCommand(input string) (string, []string) {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return "", nil
	}
	base := parts[0]
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return base, parts[1:]
}

func splitSegments(command string) []string {
	replacer := strings.NewReplacer("&&", "\x00", "||", "\x00", ";", "\x00", "|", "\x00", "\n", "\x00")
	var out []string
	for _, s := range strings.Split(replacer.Replace(command), "\x00") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
