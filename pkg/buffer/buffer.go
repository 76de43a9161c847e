// Package buffer provides a generic, thread-safe bounded queue used for the
// notification FIFOs between pipeline callbacks, stream workers, and the
// result dispatcher.
//
// The queue supports three overflow policies (DropOldest, DropNewest, Block),
// always collects statistics, and can optionally expose them as Prometheus
// metrics via a functional option.
package buffer

// Queue is a bounded FIFO parameterized by item type T.
type Queue[T any] interface {
	// Push adds an item. Behavior when full depends on the overflow policy.
	Push(item T) error

	// Pop retrieves and removes one item without blocking.
	// Returns the zero value and false if the queue is empty.
	Pop() (T, bool)

	// PopWait blocks until an item is available, the done channel fires, or
	// the queue is closed. Returns false in the latter two cases.
	PopWait(done <-chan struct{}) (T, bool)

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Len returns the current number of queued items.
	Len() int

	// Cap returns the maximum number of items the queue can hold.
	Cap() int

	// Clear removes all items, invoking the drop callback for each.
	Clear()

	// Stats returns queue statistics (always collected).
	Stats() *Statistics

	// Close shuts the queue down and wakes all blocked waiters.
	Close() error
}

// OverflowPolicy defines how the queue behaves at capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the queue is full.
	DropNewest

	// Block causes Push to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// NewQueue creates a bounded queue with the given capacity and options.
// Returns an error if metrics registration fails when metrics are requested.
func NewQueue[T any](capacity int, options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
