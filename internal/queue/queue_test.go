package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](3)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(3))
	assert.False(t, q.Push(4), "queue at capacity must reject")

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, q.Push(4))

	for _, want := range []int{2, 3, 4} {
		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestDrain(t *testing.T) {
	q := New[string](2)
	q.Push("a")
	q.Push("b")
	q.Drain()
	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestWraparound(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	v, _ := q.Pop()
	assert.Equal(t, 1, v)
	q.Push(2)
	q.Push(3)
	assert.True(t, q.Full())
	v, _ = q.Pop()
	assert.Equal(t, 2, v)
	v, _ = q.Pop()
	assert.Equal(t, 3, v)
}
