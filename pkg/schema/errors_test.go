package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeaveErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeToolExecution, "tool blew up")
	assert.Equal(t, "[TOOL_EXECUTION_ERROR] tool blew up", err.Error())

	err = err.WithStep("fetch")
	assert.Equal(t, "[TOOL_EXECUTION_ERROR] step fetch: tool blew up", err.Error())
}

func TestWeaveErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewError(ErrCodeStore, "query failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	var werr *WeaveError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &werr))
	assert.Equal(t, ErrCodeStore, werr.Code)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, NewError(ErrCodeTimeout, "t").IsFatal())
	assert.True(t, NewError(ErrCodeCancelled, "c").IsFatal())
	assert.False(t, NewError(ErrCodeToolExecution, "x").IsFatal())
	assert.False(t, NewError(ErrCodeValidation, "x").IsFatal())
}

func TestValidationResultToError(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())

	r.AddWarning("path", "warn", "just a warning")
	assert.True(t, r.Valid())

	r.AddError("steps", "no_steps", "workflow has no steps")
	assert.False(t, r.Valid())

	err := r.ToError()
	require.Error(t, err)
	werr, ok := err.(*WeaveError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, werr.Code)
	assert.Equal(t, "workflow has no steps", werr.Message)

	r.AddError("timeout", "invalid_timeout", "bad timeout")
	werr = r.ToError().(*WeaveError)
	assert.Contains(t, werr.Message, "2 errors")
}

func TestValidationResultMerge(t *testing.T) {
	a := &ValidationResult{}
	a.AddError("x", "e1", "first")

	b := &ValidationResult{}
	b.AddError("y", "e2", "second")
	b.AddWarning("z", "w1", "warn")

	a.Merge(b)
	a.Merge(nil)

	assert.Len(t, a.Errors, 2)
	assert.Len(t, a.Warnings, 1)
}
