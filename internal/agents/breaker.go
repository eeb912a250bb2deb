package agents

import (
	"sync"
	"time"
)

// latch remembers whether a breaker is open so only the transition is
// reported.
type latch struct {
	mu   sync.Mutex
	open bool
}

// trip opens the latch and reports whether it was closed.
func (l *latch) trip() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.open
	l.open = true
	return !was
}

func (l *latch) reset() {
	l.mu.Lock()
	l.open = false
	l.mu.Unlock()
}

func (l *latch) isOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// DailyBreaker caps how many actions are created per 24h wall-clock window.
// The window starts at the first Allow and resets once it has fully elapsed.
type DailyBreaker struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	count       int
	now         func() time.Time
}

func NewDailyBreaker(limit int, now func() time.Time) *DailyBreaker {
	if now == nil {
		now = time.Now
	}
	return &DailyBreaker{limit: limit, window: 24 * time.Hour, now: now}
}

func (b *DailyBreaker) rollLocked() {
	now := b.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
		b.windowStart = now
		b.count = 0
	}
}

// Take consumes one unit if the window has room. The returned window start
// identifies the window the unit belongs to, for Refund.
func (b *DailyBreaker) Take() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if b.count >= b.limit {
		return b.windowStart, false
	}
	b.count++
	return b.windowStart, true
}

// Refund returns a unit taken for an action that was never persisted. Units
// from a window that has since rolled over are dropped.
func (b *DailyBreaker) Refund(window time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	if !window.Equal(b.windowStart) {
		return
	}
	if b.count > 0 {
		b.count--
	}
}

func (b *DailyBreaker) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.count
}

func (b *DailyBreaker) Limit() int { return b.limit }

// ResetsAt is the end of the current window.
func (b *DailyBreaker) ResetsAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.windowStart.Add(b.window)
}
