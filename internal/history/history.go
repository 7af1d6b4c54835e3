// Package history persists finished workflow runs so they can be inspected
// after the fact. The engine itself stays stateless; recording is the
// caller's choice.
package history

import (
	"context"
	"time"

	"github.com/toolweave/toolweave/internal/engine"
)

// RunSummary is one row of the run index, without the full result payload.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Workflow      string    `json:"workflow"`
	Success       bool      `json:"success"`
	StepsExecuted int       `json:"steps_executed"`
	StepsFailed   int       `json:"steps_failed"`
	StepsSkipped  int       `json:"steps_skipped"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter narrows ListRuns. Zero values mean "no constraint".
type Filter struct {
	Workflow   string
	FailedOnly bool
	Limit      int
}

// Store is the persistence contract for run history. Implementations must be
// safe for concurrent use.
type Store interface {
	// SaveResult records a finished run, its full result payload, and its
	// step-by-step trace.
	SaveResult(ctx context.Context, res *engine.ExecutionResult) error
	// GetResult loads a run's full result by run ID.
	GetResult(ctx context.Context, runID string) (*engine.ExecutionResult, error)
	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, filter Filter) ([]*RunSummary, error)
	// PruneBefore deletes runs recorded before the cutoff, returning the
	// number removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
