package fiber

import (
	"sync"

	"github.com/ngin-org/ngin-async/execution"
)

// Scheduler pairs a pool of pre-allocated fibers (a driver that finds the
// pool empty allocates a fresh fiber, which joins the pool on release) with
// a fixed pool of driver goroutines: each driver pops a ready WorkItem off
// the shared queue, acquires an idle fiber,
// assigns the item's Invoke as the fiber's job, and resumes it until the
// job runs to completion.
type Scheduler struct {
	stackSize int

	mu   sync.Mutex
	idle []*Fiber

	queue chan execution.WorkItem
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewScheduler starts a Scheduler with the given driver count, fiber pool
// size, and per-fiber stack size hint. drivers is clamped to a minimum of 1;
// a poolSize below 1 falls back to the driver count. Callers must eventually
// call Close.
func NewScheduler(drivers, poolSize, stackSize int) *Scheduler {
	if drivers < 1 {
		drivers = 1
	}
	if poolSize < 1 {
		poolSize = drivers
	}

	s := &Scheduler{
		stackSize: stackSize,
		idle:      make([]*Fiber, poolSize),
		queue:     make(chan execution.WorkItem, 256),
		stop:      make(chan struct{}),
	}
	for i := range s.idle {
		s.idle[i] = New(stackSize)
	}

	s.wg.Add(drivers)
	for i := 0; i < drivers; i++ {
		go s.driverLoop()
	}
	return s
}

// Submit enqueues item to run on the next available fiber. Safe to call
// from any goroutine; blocks only if the internal queue is momentarily
// full, and never drops an item while the Scheduler is open. Once Close has
// been called, a submitted item is never delivered.
func (s *Scheduler) Submit(item execution.WorkItem) {
	if item.IsEmpty() {
		return
	}
	select {
	case s.queue <- item:
	case <-s.stop:
	}
}

// Close stops accepting new drivers' pulls and waits for every in-flight
// dispatch to finish. Items already queued but not yet picked up are left
// undelivered.
func (s *Scheduler) Close() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) driverLoop() {
	defer s.wg.Done()
	for {
		select {
		case item, ok := <-s.queue:
			if !ok {
				return
			}
			s.runOnFiber(item)
		case <-s.stop:
			return
		}
	}
}

// runOnFiber acquires an idle fiber, starts it with item's Invoke as its
// sole job, resumes it across any YieldNow handoffs until it reaches a
// terminal state, and returns it to the pool.
func (s *Scheduler) runOnFiber(item execution.WorkItem) {
	f := s.acquire()
	f.Start(func(*Fiber) { item.Invoke() })
	for f.State() == Running {
		f.Resume()
	}
	s.release(f)
}

func (s *Scheduler) acquire() *Fiber {
	s.mu.Lock()
	if n := len(s.idle); n > 0 {
		f := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.mu.Unlock()
		return f
	}
	s.mu.Unlock()
	return New(s.stackSize)
}

func (s *Scheduler) release(f *Fiber) {
	switch f.State() {
	case Completed, Error:
		f.Reset()
	default:
		// never recycle a live fiber
		return
	}
	s.mu.Lock()
	s.idle = append(s.idle, f)
	s.mu.Unlock()
}
