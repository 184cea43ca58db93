// Package async implements the task abstraction, cancellation plumbing, and
// the convenience suspension points (Delay, Yield, ContinueWith, WhenAll,
// WhenAny) built on top of the execution package's work-stealing pool.
package async

import (
	"sync"
	"sync/atomic"

	"github.com/ngin-org/ngin-async/execution"
)

// CallbackFunc is invoked at most once when a CancellationSource is
// canceled. Its return value tells the source whether to schedule the
// registration's bound continuation (true) or suppress it because the
// operation it guarded already completed on its own (false).
type CallbackFunc func() bool

type registration struct {
	done         atomic.Bool
	source       *CancellationSource
	executor     execution.ExecutorRef
	continuation execution.WorkItem
	callback     CallbackFunc
}

// CancellationRegistration is a handle to a single callback registered with
// a CancellationSource. The zero value is invalid; Reset on it is a no-op.
type CancellationRegistration struct {
	reg *registration
}

// Valid reports whether this handle refers to a live registration.
func (r CancellationRegistration) Valid() bool {
	return r.reg != nil
}

// Reset atomically detaches the registration, preventing its callback from
// firing if cancellation has not already claimed it. Safe to call multiple
// times and safe to call after the callback has already fired.
func (r CancellationRegistration) Reset() {
	if r.reg == nil {
		return
	}
	if r.reg.done.CompareAndSwap(false, true) {
		r.reg.source.forget(r.reg)
	}
}

// CancellationSource owns the cancellation state for one logical operation
// tree: a one-shot cancelled flag plus an ordered list of registrations.
type CancellationSource struct {
	mu        sync.Mutex
	cancelled atomic.Bool
	regs      []*registration
}

// NewCancellationSource returns a fresh, not-yet-cancelled source.
func NewCancellationSource() *CancellationSource {
	return &CancellationSource{}
}

// Token returns a weak, copyable view on this source.
func (s *CancellationSource) Token() CancellationToken {
	return CancellationToken{source: s}
}

// IsCancellationRequested reports whether Cancel has been called.
func (s *CancellationSource) IsCancellationRequested() bool {
	return s.cancelled.Load()
}

// Cancel fires every live registration's callback in registration order. A
// callback that returns true has its bound continuation scheduled on its
// bound executor. Only the first call has any effect.
func (s *CancellationSource) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()

	for _, r := range regs {
		if !r.done.CompareAndSwap(false, true) {
			continue
		}
		if r.callback() {
			r.executor.Execute(r.continuation)
		}
	}
}

func (s *CancellationSource) register(executor execution.ExecutorRef, continuation execution.WorkItem, cb CallbackFunc) CancellationRegistration {
	r := &registration{source: s, executor: executor, continuation: continuation, callback: cb}

	s.mu.Lock()
	if s.cancelled.Load() {
		s.mu.Unlock()
		if r.done.CompareAndSwap(false, true) && cb() {
			executor.Execute(continuation)
		}
		return CancellationRegistration{}
	}
	s.regs = append(s.regs, r)
	s.mu.Unlock()

	return CancellationRegistration{reg: r}
}

func (s *CancellationSource) forget(r *registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.regs {
		if candidate == r {
			s.regs = append(s.regs[:i], s.regs[i+1:]...)
			return
		}
	}
}

// CancellationToken is a weak, copyable view on a CancellationSource. The
// zero value is usable but unbound: Valid reports false, it never cancels,
// and Register is a permanent no-op.
type CancellationToken struct {
	source *CancellationSource
}

// Valid reports whether this token is bound to a real source.
func (t CancellationToken) Valid() bool {
	return t.source != nil
}

// IsCancellationRequested reports whether the bound source has been
// canceled. An unbound token is never considered cancelled.
func (t CancellationToken) IsCancellationRequested() bool {
	return t.source != nil && t.source.IsCancellationRequested()
}

// Register binds a callback to fire at most once when the token's source is
// canceled. An unbound token returns an invalid (no-op) registration.
func (t CancellationToken) Register(executor execution.ExecutorRef, continuation execution.WorkItem, cb CallbackFunc) CancellationRegistration {
	if t.source == nil {
		return CancellationRegistration{}
	}
	return t.source.register(executor, continuation, cb)
}
