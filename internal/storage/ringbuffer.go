package storage

import "sync"

// RingBuffer holds the most recent items up to a fixed capacity. Safe for
// concurrent use.
type RingBuffer[T any] struct {
	sync.RWMutex
	items    []T
	capacity int
	head     int // slot written by the next Add
	size     int
	total    uint64
}

// NewRingBuffer panics if capacity is not positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be greater than zero")
	}

	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item into the ring buffer. When the buffer is full the
// oldest item is overwritten and returned with ok set, so callers can drop
// it from their indexes.
func (rb *RingBuffer[T]) Add(item T) (evicted T, ok bool) {
	rb.Lock()
	defer rb.Unlock()

	if rb.size == rb.capacity {
		evicted, ok = rb.items[rb.head], true
	}

	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	rb.total++

	if rb.size < rb.capacity {
		rb.size++
	}
	return evicted, ok
}

// GetAll returns a copy of the items, oldest first.
func (rb *RingBuffer[T]) GetAll() []T {
	rb.RLock()
	defer rb.RUnlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]T, 0, rb.size)
	if rb.size < rb.capacity {
		return append(out, rb.items[:rb.size]...)
	}
	// Full: head is also the oldest slot.
	out = append(out, rb.items[rb.head:]...)
	return append(out, rb.items[:rb.head]...)
}

func (rb *RingBuffer[T]) Size() int {
	rb.RLock()
	defer rb.RUnlock()
	return rb.size
}

func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Total returns how many items were ever added, including evicted ones.
func (rb *RingBuffer[T]) Total() uint64 {
	rb.RLock()
	defer rb.RUnlock()
	return rb.total
}

// Clear empties the buffer. Total is kept.
func (rb *RingBuffer[T]) Clear() {
	rb.Lock()
	defer rb.Unlock()
	clear(rb.items)
	rb.size = 0
	rb.head = 0
}
