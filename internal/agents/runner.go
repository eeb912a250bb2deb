package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/metrics"
	"github.com/ahmetk3436/autoremedy/internal/models"
)

// runner is the ticker loop every agent embeds: one cycle immediately on
// start, then one per interval until stopped.
type runner struct {
	id       string
	name     string
	kind     string
	interval time.Duration
	cycle    func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	processed atomic.Int64
	errors    atomic.Int64
	heartbeat atomic.Pointer[time.Time]
	lastErr   atomic.Pointer[string]
}

func newRunner(id, name, kind string, interval time.Duration, cycle func(ctx context.Context) error) *runner {
	return &runner{id: id, name: name, kind: kind, interval: interval, cycle: cycle}
}

// Start launches the loop. Cycles run on a context detached from ctx's
// cancellation; Stop is the only way to end the loop.
func (r *runner) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("agent %s: interval must be positive", r.id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(context.WithoutCancel(ctx), r.stop, r.done)
	slog.Info("Agent started", "agent", r.id, "interval", r.interval)
	return nil
}

func (r *runner) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	_ = r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			_ = r.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// Stop cancels the timer and waits for an in-flight cycle to finish, or for
// ctx to expire.
func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		slog.Info("Agent stopped", "agent", r.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent %s: %w", r.id, ctx.Err())
	}
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunOnce runs a single cycle synchronously. Panics become errors.
func (r *runner) RunOnce(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s cycle: %v", r.id, rec)
		}
		now := time.Now()
		r.heartbeat.Store(&now)

		outcome := metrics.OutcomeSuccess
		switch {
		case err == nil:
		case errors.Is(err, ErrCycleSkipped):
			outcome = metrics.OutcomeSkipped
		default:
			outcome = metrics.OutcomeError
			r.errors.Add(1)
			msg := err.Error()
			r.lastErr.Store(&msg)
			slog.Error("Agent cycle failed", "agent", r.id, "error", err)
		}
		metrics.ObserveCycle(r.id, time.Since(start), outcome)
	}()
	return r.cycle(ctx)
}

func (r *runner) addProcessed(n int) {
	if n > 0 {
		r.processed.Add(int64(n))
	}
}

func (r *runner) addError(err error) {
	r.errors.Add(1)
	msg := err.Error()
	r.lastErr.Store(&msg)
}

func (r *runner) Status() Status {
	s := Status{
		ID:        r.id,
		Name:      r.name,
		Type:      r.kind,
		Running:   r.IsRunning(),
		Interval:  r.interval.String(),
		Processed: r.processed.Load(),
		Errors:    r.errors.Load(),
		State:     models.AgentInactive,
	}
	if s.Running {
		s.State = models.AgentActive
	}
	if hb := r.heartbeat.Load(); hb != nil {
		t := *hb
		s.LastHeartbeat = &t
	}
	if msg := r.lastErr.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

func skipped(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCycleSkipped, fmt.Sprintf(format, args...))
}
