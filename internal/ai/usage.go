package ai

import (
	"sort"
	"sync"
	"time"
)

type CapabilityUsage struct {
	Capability       string     `json:"capability"`
	Calls            int64      `json:"calls"`
	Failures         int64      `json:"failures"`
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	LastCall         *time.Time `json:"last_call"`
	LastError        string     `json:"last_error,omitempty"`
}

// CallObserver receives one notification per call; outcome is "success" or
// "failure".
type CallObserver func(capability, outcome string)

// UsageTracker accumulates per-capability call and token counts for the
// /api/llm-usage endpoint.
type UsageTracker struct {
	mu       sync.Mutex
	usage    map[string]*CapabilityUsage
	observer CallObserver
	now      func() time.Time
}

func NewUsageTracker(observer CallObserver) *UsageTracker {
	return &UsageTracker{usage: make(map[string]*CapabilityUsage), observer: observer, now: time.Now}
}

func (t *UsageTracker) Record(capability string, promptTokens, completionTokens int, err error) {
	t.mu.Lock()
	u, ok := t.usage[capability]
	if !ok {
		u = &CapabilityUsage{Capability: capability}
		t.usage[capability] = u
	}
	now := t.now()
	u.Calls++
	u.LastCall = &now
	u.PromptTokens += int64(promptTokens)
	u.CompletionTokens += int64(completionTokens)
	outcome := "success"
	if err != nil {
		u.Failures++
		u.LastError = err.Error()
		outcome = "failure"
	}
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(capability, outcome)
	}
}

// Snapshot returns a copy sorted by capability.
func (t *UsageTracker) Snapshot() []CapabilityUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CapabilityUsage, 0, len(t.usage))
	for _, u := range t.usage {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// Calls returns the call count for one capability.
func (t *UsageTracker) Calls(capability string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.usage[capability]; ok {
		return u.Calls
	}
	return 0
}
