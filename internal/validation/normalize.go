package validation

import (
	"strconv"

	"github.com/toolweave/toolweave/pkg/schema"
)

// AssignStepIDs gives every anonymous step a deterministic synthetic ID
// derived from its position, so results, statuses and traces always have a
// stable key. Top-level steps become "step_<i>"; nested steps are named after
// their slot under the parent ("<parent>_body", "<parent>_then",
// "<parent>_else", "<parent>_<i>"). The separator stays dot-free so the IDs
// remain addressable through ${steps.<id>.result} references, which split the
// path on dots.
func AssignStepIDs(def *schema.WorkflowDefinition) {
	if def == nil {
		return
	}
	for i, s := range def.Steps {
		if s == nil {
			continue
		}
		if s.ID == "" {
			s.ID = "step_" + strconv.Itoa(i)
		}
		assignNestedIDs(s)
	}
}

func assignNestedIDs(s *schema.Step) {
	if s.Body != nil {
		if s.Body.ID == "" {
			s.Body.ID = s.ID + "_body"
		}
		assignNestedIDs(s.Body)
	}
	if s.Then != nil {
		if s.Then.ID == "" {
			s.Then.ID = s.ID + "_then"
		}
		assignNestedIDs(s.Then)
	}
	if s.Else != nil {
		if s.Else.ID == "" {
			s.Else.ID = s.ID + "_else"
		}
		assignNestedIDs(s.Else)
	}
	for i, child := range s.Steps {
		if child == nil {
			continue
		}
		if child.ID == "" {
			child.ID = s.ID + "_" + strconv.Itoa(i)
		}
		assignNestedIDs(child)
	}
}
