package buffer

import (
	"sync"

	"github.com/camstack/camhal/errors"
)

// ring is a thread-safe circular queue with configurable overflow policies.
type ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *queueMetrics
	opts     *queueOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

// newRing creates a new ring queue instance.
func newRing[T any](capacity int, opts *queueOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	stats := NewStatistics()

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newRing", "metrics registration")
		}
	}

	r := &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    stats,
		metrics:  metrics,
		opts:     opts,
	}

	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)

	return r, nil
}

// Push adds an item according to the overflow policy.
func (r *ring[T]) Push(item T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "queue closed")
	}

	if r.size == r.capacity {
		switch r.opts.overflowPolicy {
		case DropOldest:
			droppedItem := r.items[r.tail]
			r.tail = (r.tail + 1) % r.capacity
			r.size--

			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}

			if r.opts.dropCallback != nil {
				// Run outside the lock to avoid deadlock
				defer r.opts.dropCallback(droppedItem)
			}

		case DropNewest:
			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}

			if r.opts.dropCallback != nil {
				defer r.opts.dropCallback(item)
			}
			return nil

		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}

			if r.closed {
				return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push",
					"queue closed during blocking wait")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}

	r.notEmpty.Signal()
	return nil
}

// Pop retrieves and removes one item without blocking.
func (r *ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.popLocked()
}

// PopWait blocks until an item is available, done fires, or the queue closes.
func (r *ring[T]) PopWait(done <-chan struct{}) (T, bool) {
	var zero T

	// A watcher goroutine turns channel cancellation into a cond broadcast so
	// the wait loop can observe it.
	stop := make(chan struct{})
	defer close(stop)
	if done != nil {
		go func() {
			select {
			case <-done:
				r.mu.Lock()
				r.notEmpty.Broadcast()
				r.mu.Unlock()
			case <-stop:
			}
		}()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if item, ok := r.popLocked(); ok {
			return item, true
		}
		if r.closed {
			return zero, false
		}
		if done != nil {
			select {
			case <-done:
				return zero, false
			default:
			}
		}
		r.notEmpty.Wait()
	}
}

// popLocked removes the front item. Caller must hold r.mu.
func (r *ring[T]) popLocked() (T, bool) {
	var zero T

	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // clear for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordRead(r.size, r.capacity)
	}

	r.notFull.Signal()
	return item, true
}

// Peek retrieves one item without removing it.
func (r *ring[T]) Peek() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Len returns the current number of items.
func (r *ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the queue capacity.
func (r *ring[T]) Cap() int {
	return r.capacity // immutable, no lock needed
}

// Clear removes all items, invoking the drop callback for each.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T

	if r.opts.dropCallback != nil {
		itemsToDrop := make([]T, r.size)
		for i := 0; i < r.size; i++ {
			idx := (r.tail + i) % r.capacity
			itemsToDrop[i] = r.items[idx]
		}
		defer func() {
			for _, item := range itemsToDrop {
				r.opts.dropCallback(item)
			}
		}()
	}

	for i := 0; i < r.capacity; i++ {
		r.items[i] = zero
	}

	r.head = 0
	r.tail = 0
	r.size = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}

	r.notFull.Broadcast()
}

// Stats returns queue statistics.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts down the queue and wakes all blocked waiters.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
	return nil
}
