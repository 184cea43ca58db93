package fiber

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ngin-org/ngin-async/execution"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsSubmittedWork(t *testing.T) {
	s := NewScheduler(2, 2, 8192)
	defer s.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		s.Submit(execution.Job(func() {
			n.Add(1)
			wg.Done()
		}))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for submitted work")
	}
	require.EqualValues(t, 100, n.Load())
}

func TestSchedulerDrivesYieldingJobToCompletion(t *testing.T) {
	s := NewScheduler(1, 1, 8192)
	defer s.Close()

	done := make(chan struct{})
	s.Submit(execution.Job(func() {
		if f := Current(); f != nil {
			f.YieldNow()
			f.YieldNow()
			close(done)
		}
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("yielding job never driven to completion")
	}
}

func TestSchedulerRecyclesFibers(t *testing.T) {
	s := NewScheduler(1, 1, 8192)

	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		s.Submit(execution.Job(func() { close(done) }))
		<-done
	}
	// done closes inside the job, before the driver releases the fiber;
	// Close waits for the driver to finish that release.
	s.Close()

	s.mu.Lock()
	idle := len(s.idle)
	s.mu.Unlock()
	require.Equal(t, 1, idle)
}
