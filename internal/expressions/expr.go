package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/toolweave/toolweave/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions: array operations (filter, map,
// count, any, all, sum), string operations, nil coalescing (??), and optional
// chaining (?.). Data map keys become top-level variables.
type ExprEngine struct {
	cache programCache[*vm.Program]
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs an expr-lang expression against the provided data. Programs
// are compiled with undefined variables allowed, so the same compiled program
// serves every data shape.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.cache.get(expression, func(src string) (*vm.Program, error) {
		prg, err := expr.Compile(src,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, compileError("expr", src, err)
		}
		return prg, nil
	})
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, evalError("expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
