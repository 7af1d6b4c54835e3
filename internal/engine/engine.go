package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/toolweave/toolweave/internal/expressions"
	"github.com/toolweave/toolweave/internal/logging"
	"github.com/toolweave/toolweave/internal/validation"
	"github.com/toolweave/toolweave/pkg/schema"
	"github.com/toolweave/toolweave/pkg/tools"
)

// Config tunes one Engine instance.
type Config struct {
	// MaxParallel caps the concurrency of parallel groups and concurrent
	// foreach loops. Zero means one worker per branch.
	MaxParallel int
	// BackoffBase is the unit for exponential retry backoff. Zero selects
	// DefaultBackoffBase.
	BackoffBase time.Duration
	// Logger receives structured run logs. Nil selects slog.Default.
	Logger *slog.Logger
}

// Engine executes workflow definitions against a tool registry. It is
// stateless across runs and safe for concurrent Execute calls.
type Engine struct {
	tools      tools.Lookup
	resolver   *expressions.Resolver
	conditions *expressions.ConditionEvaluator
	validator  *validation.Pipeline
	config     Config
	logger     *slog.Logger
}

// New creates an Engine over the given tool registry.
func New(registry tools.Lookup, cfg Config) (*Engine, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "tool registry is required")
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	validator, err := validation.NewPipeline(registry)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "validation pipeline setup failed").WithCause(err)
	}

	resolver := expressions.NewResolver()
	return &Engine{
		tools:      registry,
		resolver:   resolver,
		conditions: expressions.NewConditionEvaluator(resolver),
		validator:  validator,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Validate runs the definition through the validation pipeline without
// executing it. Missing step IDs are assigned in place.
func (e *Engine) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	return e.validator.Run(def)
}

// ValidateVariables checks initial workflow variables against an optional
// caller-provided JSON Schema.
func (e *Engine) ValidateVariables(variables map[string]any, varsSchema []byte) error {
	return e.validator.ValidateVariables(variables, varsSchema)
}

// Execute validates and runs a workflow definition to completion.
//
// Top-level steps run sequentially in declaration order. The workflow
// timeout is checked between top-level steps, never by cancelling a running
// step: a step that exceeds the deadline mid-flight finishes, then the run
// reports the timeout. Step failures abort the run unless continueOnError is
// set; timeouts and cancellations abort regardless.
//
// The returned error is non-nil only when the definition never started
// (validation failure). A run that started always yields an ExecutionResult;
// its Error field carries the terminating failure, if any.
func (e *Engine) Execute(ctx context.Context, def *schema.WorkflowDefinition) (*ExecutionResult, error) {
	if vr := e.validator.Run(def); !vr.Valid() {
		return nil, vr.ToError()
	}
	// Validated above, so this cannot fail.
	timeout, err := def.ParseTimeout()
	if err != nil {
		return nil, err
	}

	ectx := NewContext(def.Variables)
	r := newRun(def)
	ctx = logging.WithRunID(logging.WithWorkflow(ctx, def.Name), ectx.RunID)
	e.logger.Info("workflow started",
		"run_id", ectx.RunID, "workflow", def.Name, "steps", len(def.Steps), "timeout", def.Timeout)

	var finalErr *schema.WeaveError
	for _, step := range def.Steps {
		if cerr := ctx.Err(); cerr != nil {
			finalErr = schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(cerr)
			break
		}
		if timeout > 0 && time.Since(r.started) > timeout {
			finalErr = e.timeoutError(def, timeout)
			break
		}

		_, _, stepErr := e.execStep(ctx, r, ectx, step, "")
		if stepErr == nil {
			continue
		}
		werr := asWeaveError(stepErr, schema.ErrCodeExecution)
		if werr.IsFatal() || !r.policy.ContinueOnError {
			finalErr = werr
			break
		}
		e.logger.Warn("continuing past failed step",
			"run_id", ectx.RunID, "step_id", step.ID, "error", werr)
	}

	// A long-running final step can push the run past its deadline with no
	// further step boundary to catch it.
	if finalErr == nil && timeout > 0 && time.Since(r.started) > timeout {
		finalErr = e.timeoutError(def, timeout)
	}

	return e.buildResult(ectx, r, def, finalErr), nil
}

func (e *Engine) timeoutError(def *schema.WorkflowDefinition, timeout time.Duration) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeTimeout,
		"workflow %q exceeded timeout %s", def.Name, timeout)
}

func (e *Engine) buildResult(ectx *Context, r *run, def *schema.WorkflowDefinition, finalErr *schema.WeaveError) *ExecutionResult {
	duration := time.Since(r.started)

	records := ectx.SharedRecords()
	results := make(map[string]any, len(records))
	for id, rec := range records {
		results[id] = rec.Result
	}

	r.mu.Lock()
	statuses := make(map[string]schema.StepStatus, len(r.statuses))
	for id, st := range r.statuses {
		// A run abort can leave a step mid-flight; pending and running both
		// mean "never finished" to the caller.
		if st == schema.StepStatusRunning {
			st = schema.StepStatusPending
		}
		statuses[id] = st
	}
	executed, failed, skipped := r.executed, r.failed, r.skipped
	r.mu.Unlock()

	result := &ExecutionResult{
		RunID:         ectx.RunID,
		Workflow:      def.Name,
		Success:       finalErr == nil && failed == 0,
		Results:       results,
		StepStatus:    statuses,
		StepsExecuted: executed,
		StepsFailed:   failed,
		StepsSkipped:  skipped,
		DurationMs:    duration.Milliseconds(),
		Error:         finalErr,
		Trace:         r.trace.Entries(),
	}

	if result.Success {
		e.logger.Info("workflow finished",
			"run_id", ectx.RunID, "workflow", def.Name,
			"executed", executed, "skipped", skipped, "duration_ms", result.DurationMs)
	} else {
		e.logger.Error("workflow failed",
			"run_id", ectx.RunID, "workflow", def.Name,
			"executed", executed, "failed", failed, "skipped", skipped,
			"duration_ms", result.DurationMs, "error", finalErr)
	}
	return result
}
