package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/toolweave/toolweave/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://toolweave.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "name": { "type": "string" },
    "description": { "type": "string" },
    "variables": { "type": "object" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "error_handling": {
      "type": "object",
      "properties": {
        "retry_on_failure": { "type": "boolean" },
        "max_retries": {
          "type": "integer",
          "minimum": 0
        },
        "continue_on_error": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "timeout": {
      "type": "string",
      "pattern": "^([0-9]+(ns|us|µs|ms|s|m|h))+$"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["tool", "foreach", "condition", "parallel"]
        },
        "condition": { "type": "string" },
        "tool": { "type": "string" },
        "params": { "type": "object" },
        "items": {
          "anyOf": [
            { "type": "string" },
            { "type": "array" }
          ]
        },
        "step": { "$ref": "#/$defs/step" },
        "parallel": { "type": "boolean" },
        "then": { "$ref": "#/$defs/step" },
        "else": { "$ref": "#/$defs/step" },
        "steps": {
          "type": "array",
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definitions and variable payloads against JSON
// Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache for dynamically compiled variable schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://toolweave.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://toolweave.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow
// JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", "nil_definition", "workflow definition is nil")
		return result
	}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("", "serialize", "failed to serialize workflow definition: "+err.Error())
		return result
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		addSchemaViolations(result, err)
	}
	return result
}

// ValidateVariables validates initial workflow variables against a caller
// provided JSON Schema. The compiled schema is cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateVariables(variables map[string]any, varsSchema []byte) error {
	if len(varsSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(varsSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid variables schema").WithCause(err)
	}

	if variables == nil {
		variables = map[string]any{}
	}
	doc, err := toJSONValue(variables)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize variables").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		result := &schema.ValidationResult{}
		addSchemaViolations(result, err)
		return result.ToError()
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new
// one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring the write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("toolweave://vars-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// addSchemaViolations flattens a jsonschema error tree into per-location
// validation issues.
func addSchemaViolations(result *schema.ValidationResult, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("", "schema", err.Error())
		return
	}
	for _, violation := range collectViolations(verr) {
		result.AddError(violation.path, "schema", violation.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
