package tools

import "context"

// Tool is an external, black-box unit of work invoked by name with resolved
// arguments. The engine does not know or care how a tool reaches an external
// service.
type Tool interface {
	Name() string
	Describe() Description
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Description summarizes a tool for listing and discovery.
type Description struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}

// Lookup is the read side of a registry: the engine only needs this.
type Lookup interface {
	Lookup(name string) (Tool, error)
	Has(name string) bool
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Summary  string
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f Func) Name() string { return f.ToolName }

func (f Func) Describe() Description {
	return Description{Name: f.ToolName, Summary: f.Summary}
}

func (f Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
