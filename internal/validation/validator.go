package validation

import (
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

// Pipeline runs the full pre-execution validation sequence: synthetic ID
// assignment, structural JSON Schema validation, then semantic checks. The
// registry is optional; without one, tool name resolution is skipped.
type Pipeline struct {
	structural *JSONSchemaValidator
	registry   tools.Lookup
}

// NewPipeline creates a validation pipeline bound to a tool registry.
func NewPipeline(registry tools.Lookup) (*Pipeline, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Pipeline{structural: structural, registry: registry}, nil
}

// Run validates the definition, mutating it only to assign missing step IDs.
func (p *Pipeline) Run(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", "nil_definition", "workflow definition is nil")
		return result
	}

	AssignStepIDs(def)
	result.Merge(p.structural.ValidateDefinition(def))
	result.Merge(CheckSemantics(def, p.registry))
	return result
}

// ValidateVariables checks initial variables against an optional JSON Schema.
func (p *Pipeline) ValidateVariables(variables map[string]any, varsSchema []byte) error {
	return p.structural.ValidateVariables(variables, varsSchema)
}
