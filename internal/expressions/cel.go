package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/toolweave/toolweave/pkg/schema"
)

// CELEngine evaluates Common Expression Language expressions over the
// resolver's three scopes, each declared as map(string, dyn):
//   - vars:  workflow variables
//   - steps: step records keyed by step ID
//   - env:   process environment snapshot
type CELEngine struct {
	env   *cel.Env
	cache programCache[cel.Program]
}

// NewCELEngine creates a new CEL expression engine with a sandboxed
// environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	celEnv, err := cel.NewEnv(
		cel.Variable("vars", mapType),
		cel.Variable("steps", mapType),
		cel.Variable("env", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: celEnv}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate runs a CEL expression against the provided data. Missing scope
// keys are filled with empty maps so references to an absent scope fail as
// lookups, not as nil dereferences.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, 3)
	for _, scope := range []string{"vars", "steps", "env"} {
		if v, ok := data[scope]; ok && v != nil {
			activation[scope] = v
		} else {
			activation[scope] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, evalError("CEL", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(src string) (cel.Program, error) {
	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, compileError("CEL", src, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, compileError("CEL", src, err)
	}
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
