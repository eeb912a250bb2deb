package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/audit"
	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/ahmetk3436/autoremedy/internal/store"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("agent already registered")
)

// Manager owns the agent set: registration, lifecycle and a supervisor that
// persists each agent's status.
type Manager struct {
	store     store.Store
	events    events.Publisher
	audit     *audit.Recorder
	supervise time.Duration

	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
	paused map[string]bool

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

func NewManager(st store.Store, pub events.Publisher, supervise time.Duration) *Manager {
	if pub == nil {
		pub = events.Discard{}
	}
	if supervise <= 0 {
		supervise = 30 * time.Second
	}
	return &Manager{
		store:     st,
		events:    pub,
		audit:     audit.NewRecorder(st),
		supervise: supervise,
		agents:    make(map[string]Agent),
		paused:    make(map[string]bool),
	}
}

func (m *Manager) Register(agent Agent) error {
	id := agent.Status().ID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	m.agents[id] = agent
	m.order = append(m.order, id)
	return nil
}

func (m *Manager) Get(id string) (Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

type entry struct {
	id    string
	agent Agent
}

func (m *Manager) registered() []entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, entry{id: id, agent: m.agents[id]})
	}
	return out
}

// StartAll starts every registered agent and the supervisor. An agent that
// fails to start is marked error; the rest still start.
func (m *Manager) StartAll(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	var errs []error
	for _, e := range m.registered() {
		agent := e.agent
		st := agent.Status()
		if err := m.ensureRow(ctx, st); err != nil {
			slog.Error("Failed to register agent row", "agent", st.ID, "error", err)
		}
		if err := agent.Start(ctx); err != nil {
			slog.Error("Failed to start agent", "agent", st.ID, "error", err)
			m.persist(ctx, st, models.AgentError, err.Error())
			errs = append(errs, fmt.Errorf("start %s: %w", st.ID, err))
			continue
		}
		m.setPaused(st.ID, false)
		m.persist(ctx, agent.Status(), models.AgentActive, "")
	}

	if m.stop == nil {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.supervisor(context.WithoutCancel(ctx), m.stop, m.done)
	}
	slog.Info("Agents started", "count", len(m.registered()), "failed", len(errs))
	return errors.Join(errs...)
}

// StopAll stops the supervisor and then every agent concurrently, waiting
// for each. Calling it again is a no-op.
func (m *Manager) StopAll(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.stop != nil {
		close(m.stop)
		select {
		case <-m.done:
		case <-ctx.Done():
		}
		m.stop, m.done = nil, nil
	}

	// Stop errors are collected; one failure does not cancel the others.
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, e := range m.registered() {
		id, agent := e.id, e.agent
		if !agent.IsRunning() {
			continue
		}
		g.Go(func() error {
			if err := agent.Stop(ctx); err != nil {
				slog.Error("Failed to stop agent", "agent", id, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			st := agent.Status()
			m.persist(context.WithoutCancel(ctx), st, models.AgentInactive, st.LastError)
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("Agents stopped", "failed", len(errs))
	return errors.Join(errs...)
}

func (m *Manager) ensureRow(ctx context.Context, st Status) error {
	_, err := m.store.GetAgent(ctx, st.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	err = m.store.CreateAgent(ctx, &models.Agent{ID: st.ID, Name: st.Name, Type: st.Type, Status: models.AgentInactive})
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

func (m *Manager) persist(ctx context.Context, st Status, state, lastErr string) {
	row := &models.Agent{
		ID:             st.ID,
		Status:         state,
		ProcessedCount: st.Processed,
		ErrorCount:     st.Errors,
		LastHeartbeat:  st.LastHeartbeat,
		LastError:      lastErr,
	}
	if err := m.store.UpdateAgent(ctx, row); err != nil {
		slog.Error("Failed to persist agent status", "agent", st.ID, "error", err)
	}
}

func (m *Manager) supervisor(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.supervise)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Supervise(ctx)
		case <-stop:
			return
		}
	}
}

// Supervise persists every running agent's counters and publishes its
// status. An agent whose Status panics is marked error and left running.
func (m *Manager) Supervise(ctx context.Context) {
	for _, e := range m.registered() {
		if !e.agent.IsRunning() {
			continue
		}
		st, err := safeStatus(e.agent)
		if err != nil {
			slog.Error("Agent status check failed", "agent", e.id, "error", err)
			m.markError(ctx, e.id, err)
			continue
		}
		m.persist(ctx, st, models.AgentActive, st.LastError)
		m.events.Publish(events.AgentStatus, st)
	}
}

func safeStatus(agent Agent) (st Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("status panicked: %v", rec)
		}
	}()
	return agent.Status(), nil
}

// markError flips the stored row to error, keeping its last persisted
// counters and heartbeat.
func (m *Manager) markError(ctx context.Context, id string, cause error) {
	row, err := m.store.GetAgent(ctx, id)
	if err != nil {
		slog.Error("Failed to load agent row", "agent", id, "error", err)
		row = &models.Agent{ID: id}
	}
	row.Status = models.AgentError
	row.LastError = cause.Error()
	if err := m.store.UpdateAgent(ctx, row); err != nil {
		slog.Error("Failed to persist agent status", "agent", id, "error", err)
	}
	m.events.Publish(events.AgentStatus, map[string]interface{}{"id": id, "state": models.AgentError, "last_error": cause.Error()})
}

// GetStatus returns one agent's live status, reporting paused agents as such.
func (m *Manager) GetStatus(id string) (Status, error) {
	agent, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	st, err := safeStatus(agent)
	if err != nil {
		return Status{ID: id, State: models.AgentError, LastError: err.Error()}, nil
	}
	if m.isPaused(id) && !st.Running {
		st.State = models.AgentPaused
	}
	return st, nil
}

func (m *Manager) Statuses() []Status {
	entries := m.registered()
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		st, _ := m.GetStatus(e.id)
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) StartAgent(ctx context.Context, id, actor string) (Status, error) {
	agent, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if err := m.ensureRow(ctx, agent.Status()); err != nil {
		slog.Error("Failed to register agent row", "agent", id, "error", err)
	}
	if err := agent.Start(ctx); err != nil {
		return Status{}, err
	}
	m.setPaused(id, false)
	return m.changed(ctx, agent, models.AgentActive, actor)
}

func (m *Manager) StopAgent(ctx context.Context, id, actor string) (Status, error) {
	return m.halt(ctx, id, models.AgentInactive, actor)
}

// PauseAgent stops the agent's timer and records it as paused until the next
// StartAgent.
func (m *Manager) PauseAgent(ctx context.Context, id, actor string) (Status, error) {
	return m.halt(ctx, id, models.AgentPaused, actor)
}

func (m *Manager) halt(ctx context.Context, id, state, actor string) (Status, error) {
	agent, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if err := agent.Stop(ctx); err != nil {
		return Status{}, err
	}
	m.setPaused(id, state == models.AgentPaused)
	return m.changed(ctx, agent, state, actor)
}

func (m *Manager) changed(ctx context.Context, agent Agent, state, actor string) (Status, error) {
	st := agent.Status()
	m.persist(ctx, st, state, st.LastError)
	st.State = state
	slog.Info("Agent state changed", "agent", st.ID, "state", state, "actor", actor)
	m.audit.Record(ctx, audit.Entry{
		AgentID:  st.ID,
		Action:   audit.AgentStateChanged,
		Details:  fmt.Sprintf("%s set %s to %s", actor, st.Name, state),
		Metadata: map[string]interface{}{"state": state, "actor": actor},
	})
	m.events.Publish(events.AgentStatus, st)
	return st, nil
}

func (m *Manager) setPaused(id string, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paused {
		m.paused[id] = true
	} else {
		delete(m.paused, id)
	}
}

func (m *Manager) isPaused(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[id]
}
