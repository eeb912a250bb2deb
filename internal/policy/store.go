package policy

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Source is what agents depend on; they call Current at the start of every
// cycle and never hold on to the result.
type Source interface {
	Current() *Policy
}

// Store holds the active policy and swaps it atomically on reload.
type Store struct {
	path    string
	current atomic.Pointer[Policy]
	reloads atomic.Int64
	logger  *slog.Logger
	hook    atomic.Pointer[func(*Policy)]
}

// NewStore loads path, or the embedded defaults when path is empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, logger: slog.Default()}
	p, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	return s, nil
}

// NewStatic wraps a fixed policy; Reload is a no-op.
func NewStatic(p *Policy) *Store {
	s := &Store{logger: slog.Default()}
	s.current.Store(p)
	return s
}

func (s *Store) Current() *Policy { return s.current.Load() }

func (s *Store) Path() string { return s.path }

// Reloads counts successful reloads.
func (s *Store) Reloads() int64 { return s.reloads.Load() }

// Reload re-reads the file. An invalid file leaves the previous policy active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	p, err := s.load()
	if err != nil {
		s.logger.Warn("Policy reload rejected, keeping previous policy", "path", s.path, "error", err)
		return err
	}
	s.current.Store(p)
	s.reloads.Add(1)
	s.logger.Info("Policy reloaded", "path", s.path, "templates", len(p.Templates), "rules", len(p.Rules))
	if fn := s.hook.Load(); fn != nil {
		(*fn)(p)
	}
	return nil
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Policy)) { s.hook.Store(&fn) }

func (s *Store) load() (*Policy, error) {
	if s.path == "" {
		return Default()
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", s.path, err)
	}
	return Parse(data)
}
