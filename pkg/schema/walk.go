package schema

// Walk visits the step and every step nested inside it, parents before
// children. The callback returning false stops the walk.
func (s *Step) Walk(fn func(*Step) bool) bool {
	if s == nil {
		return true
	}
	if !fn(s) {
		return false
	}
	if !s.Body.Walk(fn) {
		return false
	}
	if !s.Then.Walk(fn) {
		return false
	}
	if !s.Else.Walk(fn) {
		return false
	}
	for _, child := range s.Steps {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// WalkSteps visits every step of the definition, top-level declaration order,
// parents before children.
func (d *WorkflowDefinition) WalkSteps(fn func(*Step) bool) {
	for _, s := range d.Steps {
		if !s.Walk(fn) {
			return
		}
	}
}
