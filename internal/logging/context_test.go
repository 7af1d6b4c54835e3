package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", Workflow(ctx))
	assert.Equal(t, "", StepID(ctx))

	ctx = WithRunID(ctx, "run-123")
	ctx = WithWorkflow(ctx, "daily-report")
	ctx = WithStepID(ctx, "collect.iter_2.fetch")

	assert.Equal(t, "run-123", RunID(ctx))
	assert.Equal(t, "daily-report", Workflow(ctx))
	assert.Equal(t, "collect.iter_2.fetch", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithRunID(context.Background(), "run-abc")
	ctx = WithStepID(ctx, "fetch")

	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-abc")
	assert.Contains(t, output, "step_id=fetch")
	assert.NotContains(t, output, "workflow=")
	assert.Contains(t, output, "test message")
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithRunID(context.Background(), "run-xyz")
	ctx = WithWorkflow(ctx, "sync")

	logger.InfoContext(ctx, "step done")

	output := buf.String()
	assert.Contains(t, output, "run_id=run-xyz")
	assert.Contains(t, output, "workflow=sync")
	assert.NotContains(t, output, "step_id=")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare")

	output := buf.String()
	assert.Contains(t, output, "bare")
	assert.NotContains(t, output, "run_id=")
}
