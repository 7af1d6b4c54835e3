package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolweave/toolweave/pkg/schema"
)

// Scope is the data visible to template resolution during a run. Implemented
// by the engine's execution context.
type Scope interface {
	// Variable looks up a workflow variable by name.
	Variable(name string) (any, bool)
	// StepRecord returns a completed step's record as a navigable map with
	// "result" and "success" keys. ok is false while the step has not
	// executed yet.
	StepRecord(id string) (map[string]any, bool)
	// Env looks up a process-environment value from the run's snapshot.
	Env(name string) (string, bool)
	// StepIDs lists the IDs with recorded results, for error messages.
	StepIDs() []string
}

// Resolver substitutes ${scope.path} markers against a Scope. Structured
// values are resolved recursively over every leaf with container shape
// preserved. A string that is exactly one marker yields the typed value; a
// string mixing literal text and markers yields a string.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve resolves a template value against the scope.
func (r *Resolver) Resolve(value any, scope Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := r.Resolve(elem, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := r.Resolve(elem, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString scans a string for ${...} markers. Zero markers returns the
// input unchanged. A string that is exactly one marker returns the typed
// resolved value. Mixed text returns a string with each marker's value
// substituted via string conversion.
func (r *Resolver) resolveString(input string, scope Scope) (any, error) {
	first := strings.Index(input, "${")
	if first == -1 {
		return input, nil
	}

	// Whole-marker fast path: "${...}" and nothing else.
	if first == 0 && strings.HasSuffix(input, "}") && strings.Index(input[2:], "${") == -1 &&
		strings.IndexByte(input[2:len(input)-1], '}') == -1 {
		return r.ResolvePath(strings.TrimSpace(input[2 : len(input)-1]), scope)
	}

	var b strings.Builder
	b.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${")
		if idx == -1 {
			b.WriteString(input[i:])
			break
		}
		b.WriteString(input[i : i+idx])
		start := i + idx + 2

		end := strings.IndexByte(input[start:], '}')
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeUnresolvedRef, "unclosed ${ marker in %q", input)
		}
		end += start

		raw := strings.TrimSpace(input[start:end])
		if raw == "" {
			return nil, schema.NewErrorf(schema.ErrCodeUnresolvedRef, "empty reference ${} in %q", input)
		}

		val, err := r.ResolvePath(raw, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))

		i = end + 1
	}

	return b.String(), nil
}

// ResolvePath resolves a single bare path like "steps.search.result.urls[0]"
// to its typed value.
func (r *Resolver) ResolvePath(raw string, scope Scope) (any, error) {
	path, err := ParsePath(raw)
	if err != nil {
		return nil, err
	}

	switch path.Scope {
	case ScopeVars:
		head := path.Segments[0]
		if head.Kind != SegmentKey {
			return nil, unresolvable(raw, "vars scope is indexed by name")
		}
		val, ok := scope.Variable(head.Key)
		if !ok {
			return nil, unresolvable(raw, fmt.Sprintf("variable %q not defined", head.Key))
		}
		return navigate(val, path.Segments[1:], raw)

	case ScopeSteps:
		head := path.Segments[0]
		if head.Kind != SegmentKey {
			return nil, unresolvable(raw, "steps scope is indexed by step ID")
		}
		record, ok := scope.StepRecord(head.Key)
		if !ok {
			return nil, unresolvable(raw, fmt.Sprintf("step %q has no recorded result; available steps: [%s]",
				head.Key, strings.Join(scope.StepIDs(), ", ")))
		}
		return navigate(record, path.Segments[1:], raw)

	case ScopeEnv:
		head := path.Segments[0]
		if head.Kind != SegmentKey {
			return nil, unresolvable(raw, "env scope is indexed by name")
		}
		val, ok := scope.Env(head.Key)
		if !ok {
			return nil, unresolvable(raw, fmt.Sprintf("environment variable %q not in snapshot", head.Key))
		}
		return navigate(val, path.Segments[1:], raw)
	}

	return nil, unresolvable(raw, "unknown scope")
}

// HasMarker checks whether a string contains any ${...} reference.
func HasMarker(s string) bool {
	return strings.Contains(s, "${")
}

// stringify converts a resolved value for embedding inside a larger string.
// Scalars use their natural form; containers are JSON-encoded inline.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
