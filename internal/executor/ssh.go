package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	sshIdleTimeout       = 10 * time.Minute
	sshKeepAliveInterval = 30 * time.Second
	sshDialTimeout       = 10 * time.Second
	sshDrainTimeout      = 5 * time.Second
)

type sshConn struct {
	client   *ssh.Client
	lastUsed time.Time
}

// SSHTransport keeps one pooled client per host:port:user and opens a
// session per command.
type SSHTransport struct {
	mu    sync.Mutex
	conns map[string]*sshConn
	stop  chan struct{}
	once  sync.Once
	dial  func(cfg SSHConfig) (*ssh.Client, error)
}

func NewSSHTransport() *SSHTransport {
	t := &SSHTransport{
		conns: make(map[string]*sshConn),
		stop:  make(chan struct{}),
		dial:  dialSSH,
	}
	go t.cleanupLoop()
	return t
}

func (t *SSHTransport) Run(ctx context.Context, conn Connection, command string) (*Result, error) {
	if conn.SSH == nil {
		return nil, fmt.Errorf("%w: ssh config missing", ErrInvalidConnection)
	}
	client, err := t.client(*conn.SSH)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		t.evict(*conn.SSH)
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("ssh start: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		res := &Result{ExitCode: -1}
		// Output is only safe to read once Wait has returned.
		select {
		case <-done:
			res.Stdout, res.Stderr = stdout.String(), stderr.String()
		case <-time.After(sshDrainTimeout):
		}
		res.Duration = time.Since(start)
		return res, ctx.Err()
	case err := <-done:
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
		if err != nil {
			var exitErr *ssh.ExitError
			if !errors.As(err, &exitErr) {
				return res, fmt.Errorf("ssh wait: %w", err)
			}
			res.ExitCode = exitErr.ExitStatus()
		}
		res.Success = res.ExitCode == 0
		return res, nil
	}
}

func poolKey(cfg SSHConfig) string {
	return fmt.Sprintf("%s@%s:%d", cfg.Username, cfg.Host, cfg.Port)
}

func (t *SSHTransport) client(cfg SSHConfig) (*ssh.Client, error) {
	key := poolKey(cfg)

	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		if _, _, err := c.client.SendRequest("keepalive@autoremedy", true, nil); err == nil {
			c.lastUsed = time.Now()
			t.mu.Unlock()
			return c.client, nil
		}
		c.client.Close()
		delete(t.conns, key)
	}
	t.mu.Unlock()

	client, err := t.dial(cfg)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		// Lost a concurrent dial for the same key.
		c.lastUsed = time.Now()
		t.mu.Unlock()
		client.Close()
		return c.client, nil
	}
	t.conns[key] = &sshConn{client: client, lastUsed: time.Now()}
	t.mu.Unlock()
	go t.keepAlive(client, key)
	return client, nil
}

func (t *SSHTransport) evict(cfg SSHConfig) {
	key := poolKey(cfg)
	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		c.client.Close()
		delete(t.conns, key)
	}
	t.mu.Unlock()
}

func dialSSH(cfg SSHConfig) (*ssh.Client, error) {
	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	slog.Info("SSH connection established", "host", addr, "user", cfg.Username)
	return client, nil
}

func (t *SSHTransport) keepAlive(client *ssh.Client, key string) {
	ticker := time.NewTicker(sshKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@autoremedy", true, nil); err != nil {
				slog.Debug("SSH keepalive failed, connection dead", "host", key)
				return
			}
		}
	}
}

func (t *SSHTransport) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			for key, c := range t.conns {
				if time.Since(c.lastUsed) > sshIdleTimeout {
					slog.Debug("Closing idle SSH connection", "host", key)
					c.client.Close()
					delete(t.conns, key)
				}
			}
			t.mu.Unlock()
		}
	}
}

// CloseAll closes every pooled client and stops the background loops.
func (t *SSHTransport) CloseAll() {
	t.once.Do(func() { close(t.stop) })
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, c := range t.conns {
		c.client.Close()
		delete(t.conns, key)
	}
	slog.Info("All SSH connections closed")
}
