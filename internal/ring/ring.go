// Package ring provides a fixed-capacity circular buffer used for inbound
// frame history and latency samples.
package ring

import "sync"

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 64

// Buffer is a fixed-capacity, thread-safe circular buffer. When full, the
// oldest item is overwritten.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of oldest item
	count int
	cap   int
}

// New creates a Buffer with the given capacity.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push adds an item, dropping the oldest when the buffer is full.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	writeIdx := (b.head + b.count) % b.cap
	b.items[writeIdx] = item

	if b.count == b.cap {
		b.head = (b.head + 1) % b.cap
	} else {
		b.count++
	}
}

// Snapshot returns a copy of the contents in arrival order, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+i)%b.cap]
	}
	return out
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return b.cap
}

// Clear resets the buffer. Zeroes the backing slice so references are not
// retained.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.count = 0
}
