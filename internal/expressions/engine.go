package expressions

import (
	"context"
	"sync"

	"github.com/toolweave/toolweave/pkg/schema"
)

// Engine evaluates full expression languages over workflow data. Engines back
// the builtin data-shaping tools (expr.eval, cel.eval, jq); the ${...} path
// language used for step params and conditions is handled by Resolver.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs keyed by their source text. All
// engines compile lazily on first evaluation and reuse the program across
// goroutines afterwards.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func (c *programCache[P]) get(src string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, hit := c.programs[src]
	c.mu.RUnlock()
	if hit {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, hit := c.programs[src]; hit {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		var zero P
		return zero, err
	}
	if c.programs == nil {
		c.programs = make(map[string]P)
	}
	c.programs[src] = p
	return p, nil
}

func compileError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation,
		"%s compile error in %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution,
		"%s evaluation failed for %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
