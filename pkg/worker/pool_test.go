package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int

	pool := NewPool(1, 64, func(_ context.Context, item int) error {
		mu.Lock()
		got = append(got, item)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 20)
	for i, item := range got {
		assert.Equal(t, i, item)
	}
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })

	err := pool.Submit(1)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrPoolNotStarted))
}

func TestPool_DoubleStartRejected(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(time.Second) }()

	err := pool.Start(context.Background())
	assert.True(t, stderrors.Is(err, ErrPoolAlreadyStarted))
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	// First item occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool {
		return pool.Stats().QueueDepth == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(2))

	err := pool.Submit(3)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrQueueFull))
	assert.Equal(t, int64(1), pool.Stats().Dropped)
}

func TestPool_StopDrainsQueue(t *testing.T) {
	var processed int64
	var mu sync.Mutex

	pool := NewPool(1, 64, func(_ context.Context, _ int) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(10), processed)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 4, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))

	err := pool.Submit(1)
	assert.True(t, stderrors.Is(err, ErrPoolStopped))
}

func TestPool_StatsCountFailures(t *testing.T) {
	pool := NewPool(2, 16, func(_ context.Context, item int) error {
		if item%2 == 1 {
			return stderrors.New("odd item")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Submitted)
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPool_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewPool[int](1, 4, nil)
	})
}
