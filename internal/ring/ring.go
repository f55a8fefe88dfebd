// Package ring implements a fixed-capacity circular buffer for one producer
// and one consumer. When the buffer is full a push evicts the oldest unread
// entry, so producers never block.
//
// A Buffer does no locking of its own. The owner serialises Push and Pop,
// typically under the same lock that guards the state the entries describe.
package ring

import "fmt"

// Buffer is a circular buffer whose capacity is a power of two.
type Buffer[T any] struct {
	buf  []T
	mask uint64

	// read and write are free-running cursors; write-read is the number of
	// unread entries.
	read    uint64
	write   uint64
	dropped uint64
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// New allocates a buffer holding up to capacity entries. It panics if
// capacity is not a power of two.
func New[T any](capacity int) *Buffer[T] {
	if !IsPowerOfTwo(capacity) {
		panic(fmt.Sprintf("ring: capacity %d is not a power of two", capacity))
	}
	return &Buffer[T]{
		buf:  make([]T, capacity),
		mask: uint64(capacity - 1),
	}
}

// Push appends v. If the buffer was full the oldest unread entry is dropped
// and Push reports true.
func (b *Buffer[T]) Push(v T) (evicted bool) {
	if b.write-b.read == uint64(len(b.buf)) {
		b.read++
		b.dropped++
		evicted = true
	}
	b.buf[b.write&b.mask] = v
	b.write++
	return evicted
}

// Pop removes and returns the oldest unread entry.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T
	if b.read == b.write {
		return zero, false
	}
	i := b.read & b.mask
	v := b.buf[i]
	b.buf[i] = zero
	b.read++
	return v, true
}

// Peek returns the oldest unread entry without removing it.
func (b *Buffer[T]) Peek() (T, bool) {
	if b.read == b.write {
		var zero T
		return zero, false
	}
	return b.buf[b.read&b.mask], true
}

// Len returns the number of unread entries.
func (b *Buffer[T]) Len() int { return int(b.write - b.read) }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.buf) }

// Dropped returns how many entries have been evicted by overflow.
func (b *Buffer[T]) Dropped() uint64 { return b.dropped }

// ReadIndex returns the free-running read cursor. It advances once per Pop
// and once per overflow eviction.
func (b *Buffer[T]) ReadIndex() uint64 { return b.read }

// Snapshot copies the unread entries, oldest first, without consuming them.
func (b *Buffer[T]) Snapshot() []T {
	out := make([]T, 0, b.Len())
	for i := b.read; i != b.write; i++ {
		out = append(out, b.buf[i&b.mask])
	}
	return out
}

// Reset discards all entries and counters.
func (b *Buffer[T]) Reset() {
	clear(b.buf)
	b.read, b.write, b.dropped = 0, 0, 0
}
