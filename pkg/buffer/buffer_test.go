package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camstack/camhal/errors"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q, err := NewQueue[int](8)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 8, q.Cap())

	for i := 1; i <= 5; i++ {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q, err := NewQueue[string](4)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Push("front"))
	require.NoError(t, q.Push("back"))

	got, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "front", got)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_DropOldestOverflow(t *testing.T) {
	var dropped []int
	q, err := NewQueue[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))

	assert.Equal(t, []int{1}, dropped)

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, got)
	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, got)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Drops())
	assert.Equal(t, int64(1), stats.Overflows())
}

func TestQueue_DropNewestOverflow(t *testing.T) {
	var dropped []int
	q, err := NewQueue[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))

	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, 2, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestQueue_PopWaitReceivesLatePush(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	resultCh := make(chan int, 1)
	go func() {
		if item, ok := q.PopWait(nil); ok {
			resultCh <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(42))

	select {
	case got := <-resultCh:
		assert.Equal(t, 42, got)
	case <-time.After(time.Second):
		t.Fatal("PopWait did not receive the pushed item")
	}
}

func TestQueue_PopWaitCancelledByDone(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	done := make(chan struct{})
	resultCh := make(chan bool, 1)
	go func() {
		_, ok := q.PopWait(done)
		resultCh <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	close(done)

	select {
	case ok := <-resultCh:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("PopWait did not observe done")
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.PopWait(nil)
			results <- ok
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())
	wg.Wait()
	close(results)

	for ok := range results {
		assert.False(t, ok)
	}
}

func TestQueue_PushAfterClose(t *testing.T) {
	q, err := NewQueue[int](4)
	require.NoError(t, err)
	require.NoError(t, q.Close())

	err = q.Push(1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestQueue_ClearDropsAll(t *testing.T) {
	var dropped []int
	q, err := NewQueue[int](4,
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Push(i))
	}
	q.Clear()

	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []int{1, 2, 3}, dropped)
}

func TestQueue_StatsConservation(t *testing.T) {
	q, err := NewQueue[int](16)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}
	for i := 0; i < 4; i++ {
		_, ok := q.Pop()
		require.True(t, ok)
	}

	stats := q.Stats()
	assert.Equal(t, int64(10), stats.Writes())
	assert.Equal(t, int64(4), stats.Reads())
	assert.Equal(t, stats.Writes()-stats.Reads(), stats.CurrentSize())
	assert.Equal(t, int64(10), stats.MaxSize())
	assert.Zero(t, stats.DropRate())
}
