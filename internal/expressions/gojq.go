package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/toolweave/toolweave/pkg/schema"
)

// GoJQEngine evaluates jq expressions for filtering, reshaping, and
// aggregating step results. The data map is the input JSON object.
type GoJQEngine struct {
	cache programCache[*gojq.Code]
}

// NewGoJQEngine creates a new GoJQ expression engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// Evaluate runs a jq expression against the provided data. jq programs can
// emit multiple outputs: a single output is returned directly, several are
// collected into a []any, none yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.get(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, normalizeForJQ(data))
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if runErr, isErr := val.(error); isErr {
			return nil, evalError("jq", expression, runErr)
		}
		results = append(results, val)
	}

	if len(results) == 1 {
		return results[0], nil
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results, nil
}

func compileJQ(src string) (*gojq.Code, error) {
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, compileError("jq", src, err)
	}
	code, err := gojq.Compile(query,
		// Sandbox: empty environ blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, compileError("jq", src, err)
	}
	return code, nil
}

// normalizeForJQ narrows Go native number types to the int/float64 pair gojq
// accepts, recursing through containers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeForJQ(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeForJQ(elem)
		}
		return out
	case int64:
		return int(val)
	case int32:
		return int(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
