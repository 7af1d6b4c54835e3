package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toolweave/toolweave/pkg/schema"
)

// Registry is a thread-safe tool registry. It is constructed explicitly by
// the caller and injected into the engine; there is no process-wide instance.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Returns error on duplicate name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Lookup retrieves a tool by name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", name)
	}
	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns descriptions for all registered tools, sorted by name.
func (r *Registry) List() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Description, 0, len(r.tools))
	for _, t := range r.tools {
		descs = append(descs, t.Describe())
	}
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].Name < descs[j].Name
	})
	return descs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RegisterGroup bulk-registers tools under a prefixed namespace. Each tool
// name becomes "prefix.originalName" (e.g. "mail.send").
func (r *Registry) RegisterGroup(prefix string, ts []Tool) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "group prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, t := range ts {
		prefixed := fmt.Sprintf("%s.%s", prefix, t.Name())
		if _, exists := r.tools[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", prefixed)
		}
		r.tools[prefixed] = &prefixedTool{inner: t, name: prefixed}
		registered++
	}
	return registered, nil
}

// prefixedTool wraps a grouped tool with a namespaced name.
type prefixedTool struct {
	inner Tool
	name  string
}

func (p *prefixedTool) Name() string { return p.name }

func (p *prefixedTool) Describe() Description {
	d := p.inner.Describe()
	d.Name = p.name
	return d
}

func (p *prefixedTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return p.inner.Invoke(ctx, args)
}
