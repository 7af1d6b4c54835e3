package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolweave/toolweave/internal/logging"
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

// run carries the mutable state of one workflow execution: the status table
// keyed by definition step IDs, the trace, and the step counters. Concurrent
// branches share it through the mutex.
type run struct {
	def     *schema.WorkflowDefinition
	policy  schema.ErrorHandling
	trace   *Trace
	started time.Time

	mu       sync.Mutex
	statuses map[string]schema.StepStatus
	executed int
	failed   int
	skipped  int
}

func newRun(def *schema.WorkflowDefinition) *run {
	r := &run{
		def:      def,
		policy:   def.ErrorHandling,
		trace:    &Trace{},
		started:  time.Now(),
		statuses: make(map[string]schema.StepStatus),
	}
	def.WalkSteps(func(s *schema.Step) bool {
		r.statuses[s.ID] = schema.StepStatusPending
		return true
	})
	return r
}

// setStatus updates a step's status under its definition ID. A step that
// failed on any loop iteration stays failed even if later iterations succeed.
func (r *run) setStatus(id string, status schema.StepStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses[id] == schema.StepStatusFailed && status == schema.StepStatusSuccess {
		return
	}
	r.statuses[id] = status
}

func (r *run) countExecuted(failed bool) {
	r.mu.Lock()
	r.executed++
	if failed {
		r.failed++
	}
	r.mu.Unlock()
}

func (r *run) countSkipped() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

// qualify prefixes a step ID with its loop-iteration qualifier for trace and
// merged-record naming.
func qualify(qualifier, id string) string {
	if qualifier == "" {
		return id
	}
	return qualifier + "." + id
}

// execStep runs a single step of any kind: gate condition first, then
// dispatch, then the post contract (record outcome, set status, trace).
// The returned status is skipped, success, or failed.
func (e *Engine) execStep(ctx context.Context, r *run, ectx *Context, step *schema.Step, qualifier string) (any, schema.StepStatus, error) {
	traceID := qualify(qualifier, step.ID)
	ctx = logging.WithStepID(ctx, traceID)
	started := time.Now()

	// The gate applies to every kind except condition steps, where the
	// condition field is the branch predicate itself.
	if step.Kind != schema.StepKindCondition && step.Condition != "" {
		pass, err := e.conditions.Evaluate(step.Condition, ectx)
		if err != nil {
			return e.finishStep(ctx, r, ectx, step, traceID, started, 0, nil, false, err)
		}
		if !pass {
			r.setStatus(step.ID, schema.StepStatusSkipped)
			r.countSkipped()
			r.trace.Append(TraceEntry{
				StepID:   traceID,
				Kind:     step.Kind,
				Status:   schema.StepStatusSkipped,
				Started:  started,
				Duration: time.Since(started),
			})
			e.logger.Debug("step skipped", "run_id", ectx.RunID, "step_id", traceID)
			return nil, schema.StepStatusSkipped, nil
		}
	}

	r.setStatus(step.ID, schema.StepStatusRunning)

	var (
		result    any
		hasResult = true
		attempts  int
		err       error
	)
	switch step.Kind {
	case schema.StepKindTool:
		result, attempts, err = e.execTool(ctx, r, ectx, step, traceID)
	case schema.StepKindForeach:
		result, err = e.execForeach(ctx, r, ectx, step, traceID)
	case schema.StepKindCondition:
		result, hasResult, err = e.execCondition(ctx, r, ectx, step, qualifier)
	case schema.StepKindParallel:
		result, err = e.execParallel(ctx, r, ectx, step, qualifier)
	default:
		err = schema.NewErrorf(schema.ErrCodeValidation, "step %q has unknown kind %q", step.ID, step.Kind)
	}

	return e.finishStep(ctx, r, ectx, step, traceID, started, attempts, result, hasResult, err)
}

// finishStep applies the post contract shared by every step kind: on success
// record {result, success: true}; on failure record {error, success: false},
// fold the cause into the step's own failure, and bump the counters.
func (e *Engine) finishStep(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string, started time.Time, attempts int, result any, hasResult bool, err error) (any, schema.StepStatus, error) {
	now := time.Now()

	if err != nil {
		werr := asWeaveError(err, schema.ErrCodeExecution).WithStep(traceID)
		rec := StepRecord{
			Result:    map[string]any{"error": werr.Error()},
			Success:   false,
			Timestamp: now.UTC(),
		}
		if recErr := ectx.Record(step.ID, rec); recErr != nil {
			e.logger.Warn("step failure not recorded", "run_id", ectx.RunID, "step_id", traceID, "error", recErr)
		}
		r.setStatus(step.ID, schema.StepStatusFailed)
		r.countExecuted(true)
		r.trace.Append(TraceEntry{
			StepID:   traceID,
			Kind:     step.Kind,
			Status:   schema.StepStatusFailed,
			Attempt:  attempts,
			Error:    werr.Error(),
			Started:  started,
			Duration: now.Sub(started),
		})
		e.logger.Error("step failed", "run_id", ectx.RunID, "step_id", traceID, "error", werr)
		return nil, schema.StepStatusFailed, werr
	}

	if hasResult {
		rec := StepRecord{Result: result, Success: true, Timestamp: now.UTC()}
		if recErr := ectx.Record(step.ID, rec); recErr != nil {
			return e.finishStep(ctx, r, ectx, step, traceID, started, attempts, nil, false, recErr)
		}
	}
	r.setStatus(step.ID, schema.StepStatusSuccess)
	r.countExecuted(false)
	r.trace.Append(TraceEntry{
		StepID:   traceID,
		Kind:     step.Kind,
		Status:   schema.StepStatusSuccess,
		Attempt:  attempts,
		Started:  started,
		Duration: now.Sub(started),
	})
	e.logger.Debug("step succeeded", "run_id", ectx.RunID, "step_id", traceID)
	return result, schema.StepStatusSuccess, nil
}

// execTool resolves the step's params, looks the tool up in the registry and
// invokes it, retrying per the workflow's error handling policy. maxRetries
// is the total attempt count: maxRetries 3 means at most three invocations.
// Params are re-resolved on every attempt so retries observe fresh state.
func (e *Engine) execTool(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string) (any, int, error) {
	tool, err := e.tools.Lookup(step.Tool)
	if err != nil {
		return nil, 0, err
	}

	maxAttempts := 1
	if r.policy.RetryOnFailure && r.policy.MaxRetries > 1 {
		maxAttempts = r.policy.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
		}

		result, err := e.invokeTool(ctx, ectx, step, tool)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := computeBackoff(e.config.BackoffBase, attempt)
			e.logger.Warn("tool attempt failed, backing off",
				"run_id", ectx.RunID, "step_id", traceID, "tool", step.Tool,
				"attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
			if werr := waitForBackoff(ctx, delay); werr != nil {
				return nil, attempt, schema.NewError(schema.ErrCodeCancelled, "run cancelled during retry backoff").WithCause(werr)
			}
		}
	}

	return nil, maxAttempts, asWeaveError(lastErr, schema.ErrCodeToolExecution).
		WithDetails(map[string]any{"tool": step.Tool, "attempts": maxAttempts})
}

func (e *Engine) invokeTool(ctx context.Context, ectx *Context, step *schema.Step, tool tools.Tool) (any, error) {
	params, err := e.resolver.Resolve(step.Params, ectx)
	if err != nil {
		return nil, err
	}

	args, _ := params.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	result, err := tool.Invoke(ctx, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "tool %q failed", step.Tool).WithCause(err)
	}
	return result, nil
}

// execForeach resolves the items template to a list and runs the body step
// once per element inside an isolated child context binding item and index.
// The result is the ordered list of body results, one slot per input element;
// gated-out iterations leave a nil slot so output length always equals input
// length. Each iteration's records merge back under "<id>.iter_<n>." prefixes.
func (e *Engine) execForeach(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string) (any, error) {
	resolved, err := e.resolver.Resolve(step.Items, ectx)
	if err != nil {
		return nil, err
	}
	items, ok := resolved.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"foreach step %q: items resolved to %T, expected a list", step.ID, resolved)
	}

	if step.Parallel && len(items) > 1 {
		return e.runIterationsParallel(ctx, r, ectx, step, traceID, items)
	}
	return e.runIterationsSequential(ctx, r, ectx, step, traceID, items)
}

func (e *Engine) runIterationsSequential(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string, items []any) (any, error) {
	results := make([]any, len(items))
	for i, item := range items {
		res, iterErr := e.runIteration(ctx, r, ectx, step, traceID, i, item)
		if iterErr != nil {
			if !r.policy.ContinueOnError || isFatal(iterErr) {
				return nil, iterErr
			}
			results[i] = map[string]any{"error": iterErr.Error()}
			continue
		}
		results[i] = res
	}
	return results, nil
}

func (e *Engine) runIterationsParallel(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string, items []any) (any, error) {
	fanout := e.config.MaxParallel
	if fanout <= 0 || fanout > len(items) {
		fanout = len(items)
	}
	pool := NewWorkerPool(fanout)
	defer pool.Shutdown()

	results := make([]any, len(items))
	iterErrs := make([]error, len(items))
	var failed atomic.Bool

	for i, item := range items {
		i, item := i, item // per-iteration copies for the closure (pre-1.22 loopvar)
		// A failed iteration stops new launches; in-flight iterations
		// run to completion on their own.
		if failed.Load() && !r.policy.ContinueOnError {
			break
		}
		submitErr := pool.Submit(ctx, func(ctx context.Context) error {
			// Re-check on slot acquisition: a sibling may have failed while
			// this iteration waited for capacity.
			if failed.Load() && !r.policy.ContinueOnError {
				return nil
			}
			res, iterErr := e.runIteration(ctx, r, ectx, step, traceID, i, item)
			if iterErr != nil {
				iterErrs[i] = iterErr
				failed.Store(true)
				return iterErr
			}
			results[i] = res
			return nil
		})
		if submitErr != nil {
			iterErrs[i] = schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(submitErr)
			failed.Store(true)
			break
		}
	}
	pool.Wait()

	// First failed iteration in input order wins as the group's cause.
	for i, iterErr := range iterErrs {
		if iterErr == nil {
			continue
		}
		if !r.policy.ContinueOnError || isFatal(iterErr) {
			return nil, iterErr
		}
		results[i] = map[string]any{"error": iterErr.Error()}
	}
	return results, nil
}

// runIteration executes the body once in a child context and merges the
// iteration-local records back into the shared store.
func (e *Engine) runIteration(ctx context.Context, r *run, ectx *Context, step *schema.Step, traceID string, index int, item any) (any, error) {
	child := ectx.Child(item, index)
	qualifier := traceID + ".iter_" + strconv.Itoa(index)

	res, status, err := e.execStep(ctx, r, child, step.Body, qualifier)
	if mergeErr := child.MergeLocal(qualifier); mergeErr != nil {
		e.logger.Warn("iteration records not merged", "run_id", ectx.RunID, "step_id", qualifier, "error", mergeErr)
	}
	if err != nil {
		return nil, err
	}
	if status == schema.StepStatusSkipped {
		return nil, nil
	}
	return res, nil
}

// execCondition evaluates the predicate and runs the matching branch. A
// missing branch is a no-op: the step succeeds with no recorded result, so a
// later reference to it fails loudly instead of yielding null.
func (e *Engine) execCondition(ctx context.Context, r *run, ectx *Context, step *schema.Step, qualifier string) (any, bool, error) {
	pass, err := e.conditions.Evaluate(step.Condition, ectx)
	if err != nil {
		return nil, false, err
	}

	branch := step.Then
	if !pass {
		branch = step.Else
	}
	if branch == nil {
		return nil, false, nil
	}

	res, status, err := e.execStep(ctx, r, ectx, branch, qualifier)
	if err != nil {
		return nil, false, err
	}
	if status == schema.StepStatusSkipped {
		return nil, false, nil
	}
	return res, true, nil
}

// execParallel fans the group's children out through a bounded pool and
// collects their results into declaration-order slots. When a child fails and
// continueOnError is off, no further children launch, but running children
// are never cancelled; they finish and record normally. The first failure in
// declaration order becomes the group's error.
func (e *Engine) execParallel(ctx context.Context, r *run, ectx *Context, step *schema.Step, qualifier string) (any, error) {
	children := step.Steps
	fanout := e.config.MaxParallel
	if fanout <= 0 || fanout > len(children) {
		fanout = len(children)
	}
	pool := NewWorkerPool(fanout)
	defer pool.Shutdown()

	results := make([]any, len(children))
	childErrs := make([]error, len(children))
	var failed atomic.Bool

	for i, child := range children {
		i, child := i, child // per-iteration copies for the closure (pre-1.22 loopvar)
		if failed.Load() && !r.policy.ContinueOnError {
			break
		}
		submitErr := pool.Submit(ctx, func(ctx context.Context) error {
			// Re-check on slot acquisition: a sibling may have failed while
			// this child waited for capacity.
			if failed.Load() && !r.policy.ContinueOnError {
				return nil
			}
			res, status, childErr := e.execStep(ctx, r, ectx, child, qualifier)
			if childErr != nil {
				childErrs[i] = childErr
				failed.Store(true)
				return childErr
			}
			if status != schema.StepStatusSkipped {
				results[i] = res
			}
			return nil
		})
		if submitErr != nil {
			childErrs[i] = schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(submitErr)
			failed.Store(true)
			break
		}
	}
	pool.Wait()

	for _, childErr := range childErrs {
		if childErr == nil {
			continue
		}
		if !r.policy.ContinueOnError || isFatal(childErr) {
			return nil, childErr
		}
	}
	return results, nil
}

// asWeaveError coerces an arbitrary error to a structured one, wrapping
// foreign errors under the given code.
func asWeaveError(err error, code string) *schema.WeaveError {
	var werr *schema.WeaveError
	if errors.As(err, &werr) {
		return werr
	}
	return schema.NewError(code, fmt.Sprintf("%v", err)).WithCause(err)
}

func isFatal(err error) bool {
	var werr *schema.WeaveError
	if errors.As(err, &werr) {
		return werr.IsFatal()
	}
	return false
}
