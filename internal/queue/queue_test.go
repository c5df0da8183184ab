package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int](3)
	assert.True(t, q.Empty())
	assert.True(t, q.PushTail(1))
	assert.True(t, q.PushTail(2))
	assert.True(t, q.PushTail(3))
	assert.True(t, q.Full())
	assert.False(t, q.PushTail(4))

	v, ok := q.PopHead()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, q.PushTail(4))
	assert.Equal(t, []int{2, 3, 4}, q.Items())

	for _, want := range []int{2, 3, 4} {
		v, ok := q.PopHead()
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok = q.PopHead()
	assert.False(t, ok)
}

func TestQueueWrapsCircularly(t *testing.T) {
	q := New[string](2)
	q.PushTail("a")
	q.PushTail("b")
	q.PopHead()
	q.PushTail("c")
	assert.Equal(t, []string{"b", "c"}, q.Items())
}
