package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolweave/toolweave/internal/engine"
	"github.com/toolweave/toolweave/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	s, err := NewLibSQLStore(context.Background(), "file:"+dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(workflow string, success bool) *engine.ExecutionResult {
	res := &engine.ExecutionResult{
		RunID:         uuid.NewString(),
		Workflow:      workflow,
		Success:       success,
		Results:       map[string]any{"fetch": "payload"},
		StepStatus:    map[string]schema.StepStatus{"fetch": schema.StepStatusSuccess},
		StepsExecuted: 1,
		DurationMs:    42,
		Trace: []engine.TraceEntry{
			{
				StepID:   "fetch",
				Kind:     schema.StepKindTool,
				Status:   schema.StepStatusSuccess,
				Attempt:  1,
				Started:  time.Now().UTC(),
				Duration: 40 * time.Millisecond,
			},
		},
	}
	if !success {
		res.StepsFailed = 1
		res.Error = schema.NewError(schema.ErrCodeToolExecution, "tool blew up").WithStep("fetch")
	}
	return res
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := sampleResult("daily-report", true)
	require.NoError(t, s.SaveResult(ctx, res))

	got, err := s.GetResult(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, got.RunID)
	assert.Equal(t, "daily-report", got.Workflow)
	assert.True(t, got.Success)
	assert.Equal(t, "payload", got.Results["fetch"])
	assert.Equal(t, schema.StepStatusSuccess, got.StepStatus["fetch"])
	require.Len(t, got.Trace, 1)
	assert.Equal(t, "fetch", got.Trace[0].StepID)
}

func TestSaveResultRejectsNil(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.SaveResult(context.Background(), nil))
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetResult(context.Background(), "no-such-run")
	require.Error(t, err)

	werr, ok := err.(*schema.WeaveError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, werr.Code)
}

func TestListRunsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, sampleResult("alpha", true)))
	require.NoError(t, s.SaveResult(ctx, sampleResult("alpha", false)))
	require.NoError(t, s.SaveResult(ctx, sampleResult("beta", true)))

	all, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alphas, err := s.ListRuns(ctx, Filter{Workflow: "alpha"})
	require.NoError(t, err)
	assert.Len(t, alphas, 2)

	failed, err := s.ListRuns(ctx, Filter{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "alpha", failed[0].Workflow)
	assert.False(t, failed[0].Success)
	assert.NotEmpty(t, failed[0].Error)

	limited, err := s.ListRuns(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, sampleResult("old", true)))

	n, err := s.PruneBefore(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, err := s.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
