package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolweave/toolweave/internal/engine"
	"github.com/toolweave/toolweave/pkg/schema"
)

type fakeRunner struct {
	runs    atomic.Int32
	block   chan struct{} // optional: hold runs open
	succeed bool
}

func (f *fakeRunner) Execute(_ context.Context, def *schema.WorkflowDefinition) (*engine.ExecutionResult, error) {
	f.runs.Add(1)
	if f.block != nil {
		<-f.block
	}
	return &engine.ExecutionResult{RunID: "r", Workflow: def.Name, Success: f.succeed}, nil
}

func testDef(name string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:  name,
		Steps: []*schema.Step{{ID: "s", Kind: schema.StepKindTool, Tool: "noop"}},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddValidatesInput(t *testing.T) {
	s := New(&fakeRunner{succeed: true}, quietLogger())

	require.NoError(t, s.Add("nightly", "0 3 * * *", testDef("report")))

	err := s.Add("nightly", "0 3 * * *", testDef("report"))
	require.Error(t, err)
	werr, ok := err.(*schema.WeaveError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)

	err = s.Add("bad-cron", "not a schedule", testDef("x"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, err.(*schema.WeaveError).Code)

	err = s.Add("", "* * * * *", testDef("x"))
	require.Error(t, err)

	err = s.Add("no-def", "* * * * *", nil)
	require.Error(t, err)
}

func TestJobsSnapshot(t *testing.T) {
	s := New(&fakeRunner{succeed: true}, quietLogger())
	require.NoError(t, s.Add("j1", "*/5 * * * *", testDef("wf-one")))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "wf-one", jobs[0].Workflow)
	assert.False(t, jobs[0].NextRun.IsZero())

	s.Remove("j1")
	assert.Empty(t, s.Jobs())

	// Removing twice is fine.
	s.Remove("j1")
}

func TestTickRunsDueJobs(t *testing.T) {
	runner := &fakeRunner{succeed: true}
	s := New(runner, quietLogger())
	require.NoError(t, s.Add("due", "* * * * *", testDef("wf")))

	// Force the job due.
	s.mu.Lock()
	s.jobs["due"].nextRun = time.Now().UTC().Add(-time.Minute)
	s.mu.Unlock()

	s.tick(context.Background())

	require.Eventually(t, func() bool {
		return runner.runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 1 && jobs[0].LastOK && !jobs[0].LastRun.IsZero()
	}, time.Second, 5*time.Millisecond)

	// The next run moved into the future.
	assert.True(t, s.Jobs()[0].NextRun.After(time.Now().UTC().Add(-time.Second)))
}

func TestTickSkipsInFlightJobs(t *testing.T) {
	runner := &fakeRunner{succeed: true, block: make(chan struct{})}
	s := New(runner, quietLogger())
	require.NoError(t, s.Add("slow", "* * * * *", testDef("wf")))

	makeDue := func() {
		s.mu.Lock()
		s.jobs["slow"].nextRun = time.Now().UTC().Add(-time.Minute)
		s.mu.Unlock()
	}

	makeDue()
	s.tick(context.Background())
	require.Eventually(t, func() bool {
		return runner.runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Second tick while the first run is still blocked: no overlap.
	makeDue()
	s.tick(context.Background())
	assert.Equal(t, int32(1), runner.runs.Load())

	close(runner.block)
}

func TestStartAndStop(t *testing.T) {
	s := New(&fakeRunner{succeed: true}, quietLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start is rejected")
	require.NoError(t, s.Stop())

	// Stop after stop is a no-op.
	require.NoError(t, s.Stop())

	// The scheduler can be started again after a stop.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

// Stop must return even when it races the loop's initial tick, which
// contends on the same mutex.
func TestStopRacesInitialTick(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := New(&fakeRunner{succeed: true}, quietLogger())
		require.NoError(t, s.Add("job", "* * * * *", testDef("wf")))
		require.NoError(t, s.Start(context.Background()))

		stopped := make(chan struct{})
		go func() {
			_ = s.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return while a tick was in progress")
		}
	}
}

func TestNextRun(t *testing.T) {
	s := New(&fakeRunner{}, quietLogger())

	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := s.NextRun("0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)

	_, err = s.NextRun("gibberish", from)
	require.Error(t, err)
}
