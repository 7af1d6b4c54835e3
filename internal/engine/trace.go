package engine

import (
	"sync"
	"time"

	"github.com/toolweave/toolweave/pkg/schema"
)

// TraceEntry is one record in a run's structured execution trace. Step IDs
// inside loops are iteration-qualified (e.g. "collect.iter_2.fetch").
type TraceEntry struct {
	StepID   string            `json:"step_id"`
	Kind     schema.StepKind   `json:"kind"`
	Status   schema.StepStatus `json:"status"`
	Attempt  int               `json:"attempt,omitempty"`
	Error    string            `json:"error,omitempty"`
	Started  time.Time         `json:"started"`
	Duration time.Duration     `json:"duration"`
}

// Trace accumulates entries in completion order. Concurrent branches append
// through a single lock; the trace is read only after the run ends.
type Trace struct {
	mu      sync.Mutex
	entries []TraceEntry
}

// Append adds one entry.
func (t *Trace) Append(e TraceEntry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Entries returns the recorded entries.
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
