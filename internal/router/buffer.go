package router

import (
	"sync"
)

// GrowableBuffer is an unbounded FIFO queue backed by a ring that doubles
// its capacity whenever it fills. Push never blocks and never drops, so the
// producer (the upstream read loop) is decoupled from a slow consumer.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // next item to pop
	size   int
	closed bool

	pushed    int64
	popped    int64
	grows     int
	highWater int
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Len       int
	Capacity  int
	Pushed    int64
	Popped    int64
	Grows     int
	HighWater int // Largest Len observed
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{ring: make([]T, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an item. It returns false once the buffer is closed.
func (b *GrowableBuffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.size == len(b.ring) {
		b.grow()
	}

	b.ring[(b.head+b.size)%len(b.ring)] = item
	b.size++
	b.pushed++
	if b.size > b.highWater {
		b.highWater = b.size
	}

	b.cond.Signal()
	return true
}

// Pop removes the oldest item, blocking until one is available. After Close
// it keeps returning queued items and then reports false.
func (b *GrowableBuffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 && !b.closed {
		b.cond.Wait()
	}
	return b.popLocked()
}

// TryPop removes the oldest item without blocking.
func (b *GrowableBuffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

func (b *GrowableBuffer[T]) popLocked() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}

	item := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.size--
	b.popped++
	return item, true
}

// Close stops further pushes and wakes blocked consumers.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:       b.size,
		Capacity:  len(b.ring),
		Pushed:    b.pushed,
		Popped:    b.popped,
		Grows:     b.grows,
		HighWater: b.highWater,
	}
}

// grow doubles the ring, unwrapping queued items to the front.
// b.mu must be held.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, 2*len(b.ring))
	n := copy(next, b.ring[b.head:])
	copy(next[n:], b.ring[:b.head])

	b.ring = next
	b.head = 0
	b.grows++
}
