package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepUnmarshalInfersToolKind(t *testing.T) {
	var s Step
	require.NoError(t, json.Unmarshal([]byte(`{"id":"fetch","tool":"http.get","params":{"url":"x"}}`), &s))

	assert.Equal(t, StepKindTool, s.Kind)
	assert.Equal(t, "http.get", s.Tool)
}

func TestStepUnmarshalExplicitKinds(t *testing.T) {
	raw := `{
		"id": "loop",
		"type": "foreach",
		"items": "${vars.items}",
		"parallel": true,
		"step": {"id": "body", "tool": "echo"}
	}`

	var s Step
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.Equal(t, StepKindForeach, s.Kind)
	assert.True(t, s.Parallel)
	require.NotNil(t, s.Body)
	assert.Equal(t, StepKindTool, s.Body.Kind, "kind inference applies to nested steps")
}

func TestStepUnmarshalRejectsUnknownKind(t *testing.T) {
	var s Step
	err := json.Unmarshal([]byte(`{"id":"x","type":"mystery"}`), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestStepUnmarshalRejectsMissingKind(t *testing.T) {
	var s Step
	err := json.Unmarshal([]byte(`{"id":"x","params":{}}`), &s)
	require.Error(t, err)
}

func TestWorkflowDefinitionRoundTrip(t *testing.T) {
	raw := `{
		"name": "pipeline",
		"variables": {"limit": 5},
		"timeout": "30s",
		"error_handling": {"retry_on_failure": true, "max_retries": 3},
		"steps": [
			{"id": "search", "tool": "web.search", "params": {"q": "${vars.query}"}},
			{
				"id": "route",
				"type": "condition",
				"condition": "${vars.limit} > 3",
				"then": {"id": "deep", "tool": "crawl"},
				"else": {"id": "shallow", "tool": "peek"}
			}
		]
	}`

	var def WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(raw), &def))

	assert.Equal(t, "pipeline", def.Name)
	assert.True(t, def.ErrorHandling.RetryOnFailure)
	assert.Equal(t, 3, def.ErrorHandling.MaxRetries)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, StepKindCondition, def.Steps[1].Kind)
	assert.Equal(t, "crawl", def.Steps[1].Then.Tool)

	d, err := def.ParseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestParseTimeout(t *testing.T) {
	def := &WorkflowDefinition{}
	d, err := def.ParseTimeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	def.Timeout = "250ms"
	d, err = def.ParseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	def.Timeout = "whenever"
	_, err = def.ParseTimeout()
	require.Error(t, err)
	werr, ok := err.(*WeaveError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, werr.Code)
}

func TestWalkStepsVisitsParentsFirst(t *testing.T) {
	def := &WorkflowDefinition{
		Steps: []*Step{
			{ID: "a", Kind: StepKindTool},
			{
				ID:   "loop",
				Kind: StepKindForeach,
				Body: &Step{ID: "body", Kind: StepKindTool},
			},
			{
				ID:   "route",
				Kind: StepKindCondition,
				Then: &Step{ID: "then", Kind: StepKindTool},
				Else: &Step{ID: "else", Kind: StepKindTool},
			},
			{
				ID:    "fan",
				Kind:  StepKindParallel,
				Steps: []*Step{{ID: "c1", Kind: StepKindTool}, {ID: "c2", Kind: StepKindTool}},
			},
		},
	}

	var order []string
	def.WalkSteps(func(s *Step) bool {
		order = append(order, s.ID)
		return true
	})

	assert.Equal(t, []string{"a", "loop", "body", "route", "then", "else", "fan", "c1", "c2"}, order)
}

func TestWalkStops(t *testing.T) {
	def := &WorkflowDefinition{
		Steps: []*Step{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}

	var seen int
	def.WalkSteps(func(s *Step) bool {
		seen++
		return s.ID != "b"
	})
	assert.Equal(t, 2, seen)
}
