package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsAllWork(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown()

	var done atomic.Int32
	for i := 0; i < 20; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int32(20), done.Load())
	assert.Equal(t, int64(20), pool.Metrics().Completed)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var active, peak atomic.Int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(context.Context) error {
			now := active.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			active.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPoolCountsFailures(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		return fmt.Errorf("bad")
	}))
	pool.Wait()

	assert.Equal(t, int64(1), pool.Metrics().Failed)
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()

	err := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolSubmitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
}
