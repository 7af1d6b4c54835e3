package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBackoffDoubles(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 200*time.Millisecond, computeBackoff(base, 1))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(base, 2))
	assert.Equal(t, 800*time.Millisecond, computeBackoff(base, 3))
}

func TestComputeBackoffDefaultsBase(t *testing.T) {
	assert.Equal(t, 2*DefaultBackoffBase, computeBackoff(0, 1))
}

func TestWaitForBackoffCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForBackoff(ctx, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForBackoffZeroDelay(t *testing.T) {
	require.NoError(t, waitForBackoff(context.Background(), 0))
}
