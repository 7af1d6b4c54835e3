package builtin

import (
	"context"

	"github.com/toolweave/toolweave/internal/expressions"
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

// evalTool exposes one expression engine as a workflow tool. It takes an
// "expression" string and an optional "data" object the expression evaluates
// against; the engine's own compilation cache makes repeated invocations of
// the same expression cheap.
type evalTool struct {
	name    string
	summary string
	engine  expressions.Engine
}

func (t *evalTool) Name() string {
	return t.name
}

func (t *evalTool) Describe() tools.Description {
	return tools.Description{Name: t.name, Summary: t.summary}
}

func (t *evalTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s requires a non-empty 'expression' string argument", t.name)
	}

	data, _ := args["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	return t.engine.Evaluate(ctx, expression, data)
}

var _ tools.Tool = (*evalTool)(nil)
