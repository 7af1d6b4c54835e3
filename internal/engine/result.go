package engine

import (
	"github.com/toolweave/toolweave/pkg/schema"
)

// ExecutionResult is the outcome of one workflow run.
//
// StepStatus carries exactly one entry per step in the definition (nested
// steps included, under their definition IDs); steps never reached stay
// pending. Results additionally contains iteration-qualified entries for
// steps executed inside loops.
type ExecutionResult struct {
	RunID         string                       `json:"run_id"`
	Workflow      string                       `json:"workflow"`
	Success       bool                         `json:"success"`
	Results       map[string]any               `json:"results"`
	StepStatus    map[string]schema.StepStatus `json:"step_status"`
	StepsExecuted int                          `json:"steps_executed"`
	StepsFailed   int                          `json:"steps_failed"`
	StepsSkipped  int                          `json:"steps_skipped"`
	DurationMs    int64                        `json:"duration_ms"`
	Error         *schema.WeaveError           `json:"error,omitempty"`
	Trace         []TraceEntry                 `json:"trace,omitempty"`
}
