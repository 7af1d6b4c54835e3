package expressions

import (
	"strconv"
	"strings"

	"github.com/toolweave/toolweave/pkg/schema"
)

// comparison operators, two-character forms first so they are not shadowed
// by their one-character prefixes.
var comparisonOps = []string{">=", "<=", "==", "!=", ">", "<"}

// ConditionEvaluator evaluates a resolved template value as a boolean,
// including simple binary comparisons on resolved operands. It is pure with
// respect to the scope (read-only).
type ConditionEvaluator struct {
	resolver *Resolver
}

// NewConditionEvaluator creates a ConditionEvaluator over the given resolver.
func NewConditionEvaluator(resolver *Resolver) *ConditionEvaluator {
	return &ConditionEvaluator{resolver: resolver}
}

// Evaluate resolves the condition template and interprets the result as a
// boolean.
func (c *ConditionEvaluator) Evaluate(template string, scope Scope) (bool, error) {
	resolved, err := c.resolver.Resolve(template, scope)
	if err != nil {
		return false, err
	}

	switch v := resolved.(type) {
	case bool:
		return v, nil
	case string:
		return c.evaluateString(v)
	default:
		return Truthy(resolved), nil
	}
}

// evaluateString looks for a binary comparison; absent one, it normalizes
// boolean-ish words and falls back to truthiness.
func (c *ConditionEvaluator) evaluateString(s string) (bool, error) {
	if op, pos := findOperator(s); op != "" {
		left := strings.TrimSpace(s[:pos])
		right := strings.TrimSpace(s[pos+len(op):])
		return compare(left, right, op)
	}

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0", "":
		return false, nil
	}
	return Truthy(s), nil
}

// findOperator scans left-to-right for the first comparison operator
// occurrence. At each position two-character operators are checked first.
func findOperator(s string) (string, int) {
	for i := 0; i < len(s); i++ {
		for _, op := range comparisonOps {
			if strings.HasPrefix(s[i:], op) {
				return op, i
			}
		}
	}
	return "", -1
}

// compare applies a binary comparison. Operands that both look numeric are
// compared as numbers; otherwise they are compared as strings.
func compare(left, right, op string) (bool, error) {
	ln, lok := parseNumber(left)
	rn, rok := parseNumber(right)

	if lok && rok {
		switch op {
		case ">":
			return ln > rn, nil
		case "<":
			return ln < rn, nil
		case ">=":
			return ln >= rn, nil
		case "<=":
			return ln <= rn, nil
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		}
	}

	left, right = unquote(left), unquote(right)
	switch op {
	case ">":
		return left > right, nil
	case "<":
		return left < right, nil
	case ">=":
		return left >= right, nil
	case "<=":
		return left <= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}

	return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown comparison operator %q", op)
}

// unquote strips surrounding quotes from a comparison operand.
func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// parseNumber strips surrounding quotes and parses a float.
func parseNumber(s string) (float64, bool) {
	s = unquote(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Truthy applies generic truthiness: false for nil, zero numbers, empty
// strings, empty lists, and empty maps; true otherwise.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
