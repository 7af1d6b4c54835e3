package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolweave/toolweave/pkg/schema"
)

func TestContextVariables(t *testing.T) {
	ectx := NewContext(map[string]any{"a": 1, "b": "two"})
	require.NotEmpty(t, ectx.RunID)

	v, ok := ectx.Variable("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = ectx.Variable("missing")
	assert.False(t, ok)

	ectx.SetVariable("c", true)
	v, ok = ectx.Variable("c")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestContextRecordWriteOnce(t *testing.T) {
	ectx := NewContext(nil)

	rec := StepRecord{Result: "one", Success: true, Timestamp: time.Now()}
	require.NoError(t, ectx.Record("fetch", rec))

	err := ectx.Record("fetch", StepRecord{Result: "two", Success: true})
	require.Error(t, err)

	werr, ok := err.(*schema.WeaveError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)

	// The original record is untouched.
	view, ok := ectx.StepRecord("fetch")
	require.True(t, ok)
	assert.Equal(t, "one", view["result"])
	assert.Equal(t, true, view["success"])
}

func TestChildBindsLoopVariables(t *testing.T) {
	ectx := NewContext(map[string]any{"base": "x"})
	child := ectx.Child("elem", 3)

	assert.Equal(t, ectx.RunID, child.RunID)

	item, ok := child.Variable("item")
	require.True(t, ok)
	assert.Equal(t, "elem", item)

	index, ok := child.Variable("index")
	require.True(t, ok)
	assert.Equal(t, 3, index)

	base, ok := child.Variable("base")
	require.True(t, ok)
	assert.Equal(t, "x", base)

	// Loop bindings never leak into the parent.
	_, ok = ectx.Variable("item")
	assert.False(t, ok)
	_, ok = ectx.Variable("index")
	assert.False(t, ok)
}

func TestChildVariableIsolation(t *testing.T) {
	ectx := NewContext(map[string]any{"shared": "orig"})
	a := ectx.Child("a", 0)
	b := ectx.Child("b", 1)

	a.SetVariable("shared", "changed-by-a")

	v, _ := b.Variable("shared")
	assert.Equal(t, "orig", v, "sibling iterations must not observe each other")
	v, _ = ectx.Variable("shared")
	assert.Equal(t, "orig", v)
}

func TestChildRecordsShadowShared(t *testing.T) {
	ectx := NewContext(nil)
	require.NoError(t, ectx.Record("fetch", StepRecord{Result: "shared", Success: true}))

	child := ectx.Child(nil, 0)
	require.NoError(t, child.Record("fetch", StepRecord{Result: "local", Success: true}))

	view, ok := child.StepRecord("fetch")
	require.True(t, ok)
	assert.Equal(t, "local", view["result"])

	// The parent still sees the shared record.
	view, ok = ectx.StepRecord("fetch")
	require.True(t, ok)
	assert.Equal(t, "shared", view["result"])
}

func TestChildSeesEnclosingIterationRecords(t *testing.T) {
	ectx := NewContext(nil)
	outer := ectx.Child("o", 0)
	require.NoError(t, outer.Record("stage", StepRecord{Result: "outer", Success: true}))

	inner := outer.Child("i", 0)
	view, ok := inner.StepRecord("stage")
	require.True(t, ok)
	assert.Equal(t, "outer", view["result"])
}

func TestMergeLocalQualifiesIDs(t *testing.T) {
	ectx := NewContext(nil)

	child := ectx.Child("a", 0)
	require.NoError(t, child.Record("double", StepRecord{Result: 2, Success: true}))
	require.NoError(t, child.MergeLocal("loop.iter_0"))

	view, ok := ectx.StepRecord("loop.iter_0.double")
	require.True(t, ok)
	assert.Equal(t, 2, view["result"])

	// The unqualified ID stays free for other iterations.
	_, ok = ectx.StepRecord("double")
	assert.False(t, ok)

	records := ectx.SharedRecords()
	assert.Contains(t, records, "loop.iter_0.double")
}

func TestStepIDsSorted(t *testing.T) {
	ectx := NewContext(nil)
	require.NoError(t, ectx.Record("b", StepRecord{Success: true}))
	require.NoError(t, ectx.Record("a", StepRecord{Success: true}))
	require.NoError(t, ectx.Record("c", StepRecord{Success: true}))

	assert.Equal(t, []string{"a", "b", "c"}, ectx.StepIDs())
}

func TestEnvSnapshot(t *testing.T) {
	t.Setenv("TOOLWEAVE_TEST_ENV", "snapshot-value")

	ectx := NewContext(nil)
	v, ok := ectx.Env("TOOLWEAVE_TEST_ENV")
	require.True(t, ok)
	assert.Equal(t, "snapshot-value", v)

	// Children share the parent snapshot.
	child := ectx.Child(nil, 0)
	v, ok = child.Env("TOOLWEAVE_TEST_ENV")
	require.True(t, ok)
	assert.Equal(t, "snapshot-value", v)
}
