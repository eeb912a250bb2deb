// Package events fans pipeline events out to live subscribers (the websocket
// feed). Publishing never blocks and works with zero subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	AlertCreated          = "alert.created"
	AlertUpdated          = "alert.updated"
	AlertResolved         = "alert.resolved"
	RemediationStatus     = "remediation.status"
	WorkflowCreated       = "workflow.created"
	WorkflowStepCompleted = "workflow.step_completed"
	WorkflowApproved      = "workflow.approved"
	WorkflowRejected      = "workflow.rejected"
	WorkflowEscalated     = "workflow.escalated"
	AgentStatus           = "agent.status"
	ComplianceReport      = "compliance.report"
	MetricsLatest         = "metrics.latest"
	CircuitBreakerTripped = "circuit_breaker.tripped"
	PolicyReloaded        = "policy.reloaded"
)

type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type Publisher interface {
	Publish(eventType string, payload interface{})
}

const subscriberBuffer = 64

// Hub is an in-process broadcaster. Slow subscribers lose events rather than
// stall the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Int64
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event), now: time.Now}
}

func (h *Hub) Publish(eventType string, payload interface{}) {
	ev := Event{Type: eventType, Payload: payload, Timestamp: h.now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(string, interface{}) {}
