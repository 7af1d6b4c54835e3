package validation

import (
	"fmt"

	"github.com/toolweave/toolweave/internal/expressions"
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

// CheckSemantics validates what JSON Schema cannot express: step ID
// uniqueness across the whole tree, per-kind field requirements, failure
// policy sanity, and tool name resolution against the registry. Call after
// AssignStepIDs so every step has an ID to report against.
func CheckSemantics(def *schema.WorkflowDefinition, registry tools.Lookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", "nil_definition", "workflow definition is nil")
		return result
	}

	if def.Name == "" {
		result.AddWarning("name", "missing_name", "workflow has no name")
	}
	if len(def.Steps) == 0 {
		result.AddError("steps", "no_steps", "workflow has no steps")
	}
	if _, err := def.ParseTimeout(); err != nil {
		result.AddError("timeout", "invalid_timeout", err.Error())
	}

	policy := def.ErrorHandling
	if policy.MaxRetries < 0 {
		result.AddError("error_handling.max_retries", "invalid_retries",
			fmt.Sprintf("max_retries must not be negative, got %d", policy.MaxRetries))
	}
	if policy.RetryOnFailure && policy.MaxRetries <= 1 {
		result.AddWarning("error_handling.max_retries", "ineffective_retries",
			"retry_on_failure is enabled but max_retries allows only one attempt")
	}

	seen := make(map[string]bool)
	def.WalkSteps(func(s *schema.Step) bool {
		if seen[s.ID] {
			result.AddError(s.ID, "duplicate_id", fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
		checkStep(result, s, registry)
		return true
	})

	return result
}

func checkStep(result *schema.ValidationResult, s *schema.Step, registry tools.Lookup) {
	switch s.Kind {
	case schema.StepKindTool:
		if s.Tool == "" {
			result.AddError(s.ID, "missing_tool", "tool step has no tool name")
		} else if registry != nil && !registry.Has(s.Tool) {
			result.AddError(s.ID, "unknown_tool", fmt.Sprintf("tool %q is not registered", s.Tool))
		}
	case schema.StepKindForeach:
		switch items := s.Items.(type) {
		case nil:
			result.AddError(s.ID, "missing_items", "foreach step has no items")
		case string:
			if !expressions.HasMarker(items) {
				result.AddError(s.ID, "literal_items",
					"foreach items is a plain string with no ${...} reference; it can never resolve to a list")
			}
		}
		if s.Body == nil {
			result.AddError(s.ID, "missing_body", "foreach step has no body step")
		}
	case schema.StepKindCondition:
		if s.Condition == "" {
			result.AddError(s.ID, "missing_condition", "condition step has no condition")
		}
		if s.Then == nil && s.Else == nil {
			result.AddWarning(s.ID, "no_branches", "condition step has neither then nor else; it is a no-op")
		}
	case schema.StepKindParallel:
		if len(s.Steps) == 0 {
			result.AddError(s.ID, "empty_group", "parallel step has no child steps")
		}
	default:
		result.AddError(s.ID, "unknown_kind", fmt.Sprintf("unknown step type %q", s.Kind))
	}
}
