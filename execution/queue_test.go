package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerQueue_LIFOOwnerOrder(t *testing.T) {
	q := newWorkerQueue()
	results := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		q.push(Job(func() { results = append(results, i) }))
	}

	for i := 0; i < 3; i++ {
		item, ok := q.tryPop()
		require.True(t, ok)
		item.Invoke()
	}
	assert.Equal(t, []int{3, 2, 1}, results)

	_, ok := q.tryPop()
	assert.False(t, ok)
}

func TestWorkerQueue_StealIsFIFO(t *testing.T) {
	q := newWorkerQueue()
	tags := []int{1, 2, 3}
	var got []int
	for _, tag := range tags {
		tag := tag
		q.push(Job(func() { got = append(got, tag) }))
	}

	first, ok := q.trySteal()
	require.True(t, ok)
	second, ok := q.trySteal()
	require.True(t, ok)
	third, ok := q.trySteal()
	require.True(t, ok)

	assert.False(t, first.IsEmpty())
	assert.False(t, second.IsEmpty())
	assert.False(t, third.IsEmpty())

	first.Invoke()
	second.Invoke()
	third.Invoke()
	assert.Equal(t, tags, got)

	_, ok = q.trySteal()
	assert.False(t, ok)
}

func TestWorkerQueue_StealAndPopDoNotDoubleDeliver(t *testing.T) {
	q := newWorkerQueue()
	const n = 100
	for i := 0; i < n; i++ {
		q.push(Job(func() {}))
	}

	// Alternate owner pops from the tail with steals from the head.
	delivered := 0
	for i := 0; ; i++ {
		var ok bool
		if i%2 == 0 {
			_, ok = q.tryPop()
		} else {
			_, ok = q.trySteal()
		}
		if !ok {
			break
		}
		delivered++
	}
	assert.Equal(t, n, delivered)

	_, ok := q.tryPop()
	assert.False(t, ok)
	_, ok = q.trySteal()
	assert.False(t, ok)
}

func TestInjectionQueue_FIFO(t *testing.T) {
	q := newInjectionQueue()
	results := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		i := i
		q.push(Job(func() { results = append(results, i) }))
	}

	for i := 0; i < 3; i++ {
		item, ok := q.tryPop()
		require.True(t, ok)
		item.Invoke()
	}

	assert.Equal(t, []int{1, 2, 3}, results)

	_, ok := q.tryPop()
	assert.False(t, ok)
}

func TestInjectionQueue_Clear(t *testing.T) {
	q := newInjectionQueue()
	q.push(Job(func() {}))
	q.push(Job(func() {}))
	q.clear()

	_, ok := q.tryPop()
	assert.False(t, ok)
}
