package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	require.NoError(t, rq.Enqueue(3))
	assert.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, rq.Enqueue(4))
	var got []int
	rq.Each(func(i int) { got = append(got, i) })
	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestRingQueuePushDropsOldest(t *testing.T) {
	rq := NewRingQueue[string](2)
	_, dropped := rq.Push("a")
	assert.False(t, dropped)
	rq.Push("b")
	old, dropped := rq.Push("c")
	assert.True(t, dropped)
	assert.Equal(t, "a", old)
	front, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, "b", front)
	assert.Equal(t, 2, rq.Len())
}

func TestRingQueueEmpty(t *testing.T) {
	rq := NewRingQueue[float64](1)
	_, err := rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
