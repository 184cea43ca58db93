// Package atomiccond implements the generation-counter wait primitive used
// throughout the executor and task promise to avoid lost wakeups: a Notify
// that happens strictly between a reader's Load and its subsequent Wait
// must still cause that Wait to return promptly.
package atomiccond

import (
	"sync"
	"time"
)

// Cond is a generation counter paired with a broadcast condition variable.
// The zero value is not usable; construct with New.
type Cond struct {
	mu  sync.Mutex
	cv  *sync.Cond
	gen uint64
}

// New returns a ready-to-use Cond.
func New() *Cond {
	c := &Cond{}
	c.cv = sync.NewCond(&c.mu)
	return c
}

// Load returns the current generation. Callers sample this before checking
// whether they need to wait, then pass the sampled value to Wait/WaitFor.
func (c *Cond) Load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Wait blocks until the generation advances past gen.
func (c *Cond) Wait(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.gen == gen {
		c.cv.Wait()
	}
}

// WaitFor blocks until the generation advances past gen or d elapses,
// returning true if woken by a notification (generation changed) and false
// on timeout.
func (c *Cond) WaitFor(gen uint64, d time.Duration) bool {
	deadline := time.Now().Add(d)

	// sync.Cond has no timed wait, so a watcher goroutine nudges the
	// condition once the deadline passes; it is harmless if it fires after
	// a legitimate wakeup since Wait's loop re-checks the generation.
	timer := time.AfterFunc(d, func() {
		c.mu.Lock()
		c.cv.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.gen == gen {
		if !time.Now().Before(deadline) {
			return false
		}
		c.cv.Wait()
	}
	return true
}

// NotifyOne bumps the generation and wakes a single waiter.
func (c *Cond) NotifyOne() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	c.cv.Signal()
}

// NotifyAll bumps the generation and wakes every waiter.
func (c *Cond) NotifyAll() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	c.cv.Broadcast()
}
