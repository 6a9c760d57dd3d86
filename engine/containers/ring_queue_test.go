package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueOrder(t *testing.T) {
	q := NewRingQueue[int](2)
	_, ok := q.Peek()
	assert.False(t, ok)
	_, ok = q.Dequeue()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(i))
	}
	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// wrap around before growing again
	require.True(t, q.Enqueue(4))
	require.True(t, q.Enqueue(5))
	assert.Equal(t, 4, q.Len())

	front, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, front)

	var got []int
	for !q.IsEmpty() {
		v, _ := q.Dequeue()
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4, 5}, got)
}

func TestRingQueueGrowsWhenFull(t *testing.T) {
	q := NewRingQueue[string](0)
	assert.Equal(t, 1, q.Cap())
	q.Enqueue("a")
	assert.True(t, q.IsFull())
	q.Enqueue("b")
	assert.Equal(t, 2, q.Cap())
	q.Enqueue("c")
	assert.Equal(t, 4, q.Cap())
	assert.Equal(t, 3, q.Len())
}

func TestBoundedRingQueue(t *testing.T) {
	q := NewBoundedRingQueue[int](2)
	assert.True(t, q.Enqueue(1))
	assert.True(t, q.Enqueue(2))
	assert.False(t, q.Enqueue(3))
	assert.Equal(t, 2, q.Cap())

	v, _ := q.Dequeue()
	assert.Equal(t, 1, v)
	assert.True(t, q.Enqueue(3))
}
