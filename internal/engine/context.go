package engine

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/toolweave/toolweave/internal/expressions"
	"github.com/toolweave/toolweave/pkg/schema"
)

// StepRecord is one completed step's entry in the execution context.
type StepRecord struct {
	Result    any       `json:"result"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// view returns the record as a navigable map for path resolution.
func (r StepRecord) view() map[string]any {
	return map[string]any{
		"result":  r.Result,
		"success": r.Success,
	}
}

// Context is the mutable store of variables and accumulated step results
// visible to template resolution during a single workflow run. It is created
// fresh per run and discarded at run end.
//
// Child contexts (one per loop iteration) carry an isolated copy of the
// variables and an iteration-local record overlay; the shared record store is
// the only synchronized mutation point.
type Context struct {
	RunID string

	mu        sync.RWMutex
	variables map[string]any

	shared *recordStore          // shared across the whole run
	local  map[string]StepRecord // iteration-local records; nil on the root
	parent *Context
	env    map[string]string // process environment snapshot, taken at creation
}

// recordStore is the shared, write-once step result map.
type recordStore struct {
	mu      sync.RWMutex
	records map[string]StepRecord
}

// NewContext creates a root execution context with the given initial
// variables and a snapshot of the process environment.
func NewContext(variables map[string]any) *Context {
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	return &Context{
		RunID:     uuid.NewString(),
		variables: vars,
		shared:    &recordStore{records: make(map[string]StepRecord)},
		env:       env,
	}
}

// Child branches an isolated context for one loop iteration, binding the
// loop variables "item" and "index". The copy means sibling iterations never
// observe each other's bindings and prior bindings of those names are
// restored for free when the iteration ends.
func (c *Context) Child(item any, index int) *Context {
	c.mu.RLock()
	vars := make(map[string]any, len(c.variables)+2)
	for k, v := range c.variables {
		vars[k] = v
	}
	c.mu.RUnlock()

	vars["item"] = item
	vars["index"] = index

	return &Context{
		RunID:     c.RunID,
		variables: vars,
		shared:    c.shared,
		local:     make(map[string]StepRecord),
		parent:    c,
		env:       c.env,
	}
}

// Variable implements expressions.Scope.
func (c *Context) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable binds a workflow variable on this context only.
func (c *Context) SetVariable(name string, value any) {
	c.mu.Lock()
	c.variables[name] = value
	c.mu.Unlock()
}

// StepRecord implements expressions.Scope: iteration-local records shadow the
// shared store, and enclosing iterations are visible from nested loops.
func (c *Context) StepRecord(id string) (map[string]any, bool) {
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx.local != nil {
			ctx.mu.RLock()
			rec, ok := ctx.local[id]
			ctx.mu.RUnlock()
			if ok {
				return rec.view(), true
			}
		}
	}

	c.shared.mu.RLock()
	defer c.shared.mu.RUnlock()
	rec, ok := c.shared.records[id]
	if !ok {
		return nil, false
	}
	return rec.view(), true
}

// Env implements expressions.Scope.
func (c *Context) Env(name string) (string, bool) {
	v, ok := c.env[name]
	return v, ok
}

// StepIDs implements expressions.Scope, listing recorded step IDs for error
// messages.
func (c *Context) StepIDs() []string {
	seen := make(map[string]bool)
	var ids []string

	for ctx := c; ctx != nil; ctx = ctx.parent {
		if ctx.local == nil {
			continue
		}
		ctx.mu.RLock()
		for id := range ctx.local {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		ctx.mu.RUnlock()
	}

	c.shared.mu.RLock()
	for id := range c.shared.records {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	c.shared.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Record stores a step's record. On a root context it appends to the shared
// store; on an iteration context it writes the local overlay. Entries are
// write-once: recording the same ID twice is an engine error.
func (c *Context) Record(id string, rec StepRecord) error {
	if c.local != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, exists := c.local[id]; exists {
			return schema.NewErrorf(schema.ErrCodeConflict, "step result %q already recorded", id)
		}
		c.local[id] = rec
		return nil
	}

	return c.shared.put(id, rec)
}

// MergeLocal folds this iteration context's local records into the shared
// store under iteration-qualified IDs, e.g. "loop.iter_2.fetch". Only the
// records merge back; variable bindings are discarded with the child.
func (c *Context) MergeLocal(qualifier string) error {
	if c.local == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, rec := range c.local {
		if err := c.shared.put(qualifier+"."+id, rec); err != nil {
			return err
		}
	}
	return nil
}

// SharedRecords returns a snapshot of the shared record store.
func (c *Context) SharedRecords() map[string]StepRecord {
	c.shared.mu.RLock()
	defer c.shared.mu.RUnlock()
	out := make(map[string]StepRecord, len(c.shared.records))
	for id, rec := range c.shared.records {
		out[id] = rec
	}
	return out
}

func (s *recordStore) put(id string, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step result %q already recorded", id)
	}
	s.records[id] = rec
	return nil
}

var _ expressions.Scope = (*Context)(nil)
