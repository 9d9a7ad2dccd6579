package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndLen(t *testing.T) {
	rb := New[int](3)
	assert.Equal(t, 0, rb.Len())

	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, 2, rb.Len())

	rb.Push(3)
	rb.Push(4) // overwrites 1
	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, 3, rb.Cap())
}

func TestRecentOrderAfterWraparound(t *testing.T) {
	rb := New[int](3)
	for _, v := range []int{1, 2, 3, 4, 5} {
		rb.Push(v)
	}
	// capacity 3, last pushed were 3,4,5 in that order
	assert.Equal(t, []int{3, 4, 5}, rb.Recent(0))
	assert.Equal(t, []int{4, 5}, rb.Recent(2))
}

func TestRecentBeforeFull(t *testing.T) {
	rb := New[string](5)
	rb.Push("a")
	rb.Push("b")
	assert.Equal(t, []string{"a", "b"}, rb.Recent(10))
}

func TestLastAndClear(t *testing.T) {
	rb := New[int](2)
	_, ok := rb.Last()
	assert.False(t, ok)

	rb.Push(7)
	rb.Push(9)
	last, ok := rb.Last()
	require.True(t, ok)
	assert.Equal(t, 9, last)

	rb.Clear()
	assert.Equal(t, 0, rb.Len())
	_, ok = rb.Last()
	assert.False(t, ok)
}

func TestNewPanicsOnNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}
