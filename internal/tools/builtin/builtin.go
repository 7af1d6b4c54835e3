// Package builtin provides the tools shipped with the engine: expression
// evaluation over three languages (Expr, CEL, jq) for shaping data between
// workflow steps without an external tool server.
package builtin

import (
	"github.com/toolweave/toolweave/internal/expressions"
	"github.com/toolweave/toolweave/pkg/tools"
)

// Register adds all built-in tools to the registry.
func Register(reg *tools.Registry) error {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	all := []tools.Tool{
		&evalTool{
			name:    "expr.eval",
			summary: "Evaluate an Expr expression against the given data",
			engine:  expressions.NewExprEngine(),
		},
		&evalTool{
			name:    "cel.eval",
			summary: "Evaluate a CEL expression against the given data",
			engine:  celEngine,
		},
		&evalTool{
			name:    "jq",
			summary: "Run a jq program over the given data",
			engine:  expressions.NewGoJQEngine(),
		},
	}

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
