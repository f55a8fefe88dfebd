package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPowerOfTwo(t *testing.T) {
	for _, n := range []int{0, -4, 3, 100, 255} {
		assert.Panics(t, func() { New[int](n) }, "capacity %d", n)
	}
	for _, n := range []int{1, 2, 128, 256} {
		assert.NotPanics(t, func() { New[int](n) }, "capacity %d", n)
	}
}

func TestBuffer_FIFO(t *testing.T) {
	b := New[string](4)
	_, ok := b.Pop()
	require.False(t, ok)

	b.Push("a")
	b.Push("b")
	head, ok := b.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head)
	assert.Equal(t, 2, b.Len())

	v, _ := b.Pop()
	assert.Equal(t, "a", v)
	v, _ = b.Pop()
	assert.Equal(t, "b", v)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_OverflowAdvancesReadByOverflowCount(t *testing.T) {
	const capacity = 8
	b := New[int](capacity)

	const pushed = capacity + 5
	evictions := 0
	for i := 0; i < pushed; i++ {
		if b.Push(i) {
			evictions++
		}
	}

	assert.Equal(t, pushed-capacity, evictions)
	assert.Equal(t, uint64(pushed-capacity), b.ReadIndex())
	assert.Equal(t, uint64(pushed-capacity), b.Dropped())
	assert.Equal(t, capacity, b.Len())

	// The most recent entries survive in order.
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12}, b.Snapshot())
	for want := pushed - capacity; want < pushed; want++ {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestBuffer_SnapshotDoesNotConsume(t *testing.T) {
	b := New[int](4)
	b.Push(1)
	b.Push(2)
	assert.Equal(t, []int{1, 2}, b.Snapshot())
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_Reset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, uint64(0), b.Dropped())
	assert.Equal(t, uint64(0), b.ReadIndex())
	assert.Empty(t, b.Snapshot())
}
