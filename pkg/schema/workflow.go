package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is the JSON-serializable workflow format. It is parsed
// once and treated as immutable for the lifetime of a run.
type WorkflowDefinition struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Steps         []*Step        `json:"steps"`
	ErrorHandling ErrorHandling  `json:"error_handling,omitempty"`
	Timeout       string         `json:"timeout,omitempty"` // e.g. "30s", "5m"
}

// ParseTimeout returns the workflow timeout as a duration, or zero when unset.
func (d *WorkflowDefinition) ParseTimeout() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0, NewErrorf(ErrCodeValidation, "invalid workflow timeout %q: %s", d.Timeout, err.Error())
	}
	return dur, nil
}

// ErrorHandling is the workflow-level failure policy.
type ErrorHandling struct {
	RetryOnFailure  bool `json:"retry_on_failure,omitempty"`
	MaxRetries      int  `json:"max_retries,omitempty"`
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// StepKind discriminates the closed Step union.
type StepKind string

const (
	StepKindTool      StepKind = "tool"
	StepKindForeach   StepKind = "foreach"
	StepKindCondition StepKind = "condition"
	StepKindParallel  StepKind = "parallel"
)

// Step is one node in a workflow's execution graph: a tool call, a foreach
// loop, a conditional, or a parallel group. The Kind field selects which of
// the kind-specific field groups is meaningful.
//
// Condition is a template string evaluated before execution. For tool,
// foreach, and parallel steps a false condition skips the step. For
// condition-kind steps it selects between Then and Else.
type Step struct {
	ID        string   `json:"id,omitempty"`
	Kind      StepKind `json:"type,omitempty"`
	Condition string   `json:"condition,omitempty"`

	// tool
	Tool   string         `json:"tool,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// foreach
	Items    any   `json:"items,omitempty"` // template string or literal list
	Body     *Step `json:"step,omitempty"`
	Parallel bool  `json:"parallel,omitempty"` // run iterations concurrently

	// condition
	Then *Step `json:"then,omitempty"`
	Else *Step `json:"else,omitempty"`

	// parallel
	Steps []*Step `json:"steps,omitempty"`
}

// stepAlias avoids UnmarshalJSON recursion.
type stepAlias Step

// UnmarshalJSON decodes a step and resolves its kind. A step with no explicit
// "type" but a "tool" field is a tool step. Unknown kinds are rejected here so
// the union stays closed at parse time.
func (s *Step) UnmarshalJSON(data []byte) error {
	var a stepAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	if a.Kind == "" && a.Tool != "" {
		a.Kind = StepKindTool
	}

	switch a.Kind {
	case StepKindTool, StepKindForeach, StepKindCondition, StepKindParallel:
	case "":
		return NewErrorf(ErrCodeValidation, "step %q: missing type (and no tool name to infer one)", a.ID)
	default:
		return NewErrorf(ErrCodeValidation, "step %q: unknown step type %q", a.ID, a.Kind)
	}

	*s = Step(a)
	return nil
}
