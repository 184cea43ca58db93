package goroutineid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent_NonZero(t *testing.T) {
	assert.NotZero(t, Current())
}

func TestCurrent_StableWithinAGoroutine(t *testing.T) {
	first := Current()
	second := Current()
	assert.Equal(t, first, second)
}

func TestCurrent_DistinctAcrossGoroutines(t *testing.T) {
	const n = 16
	ids := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			ids[i] = Current()
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		assert.NotZero(t, id)
		assert.False(t, seen[id], "goroutine id reused within a concurrent batch: %d", id)
		seen[id] = true
	}
}
