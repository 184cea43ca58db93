// Package reactor implements the readiness/completion multiplexer described
// in the engine's asynchronous core: it watches OS handles via the best
// mechanism the platform offers (epoll, kqueue, a portable select fallback,
// or IOCP on Windows) and resumes task-graph waiters once a handle becomes
// ready, without the reactor itself ever needing to know what kind of
// socket or file sits behind the handle.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/ngin-org/ngin-async/async"
	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/execution"
)

// Handle is the native OS descriptor a Reactor watches: a file descriptor
// on POSIX platforms, a SOCKET/HANDLE value cast to int on Windows.
type Handle int

// backend is the narrow surface every platform poller (FastPoller) exposes.
// Exactly one FastPoller type is compiled per build target (poller_linux.go,
// poller_darwin.go, poller_windows.go, poller_other.go), so this interface
// exists purely to let Reactor's platform-independent logic in this file
// talk to whichever one is present without a build-tag switch of its own.
type backend interface {
	Init() error
	Close() error
	RegisterFD(fd int, events IOEvents, cb IOCallback) error
	UnregisterFD(fd int) error
	ModifyFD(fd int, events IOEvents) error
	PollIO(timeoutMs int) (int, error)
}

// waiter is one outstanding WaitUntilReadable/Writable call parked on a
// handle. done is CASed by whichever of {readiness, cancellation} resolves
// it first; the loser is a no-op, matching the registration-callback race
// documented for CancellationSource.
type waiter struct {
	done   atomic.Bool
	result chan asyncerr.AsyncError
	reg    async.CancellationRegistration
}

func (w *waiter) resolve(err asyncerr.AsyncError) {
	if w.done.CompareAndSwap(false, true) {
		w.result <- err
	}
}

type fdWaiters struct {
	read  []*waiter
	write []*waiter
}

func (fw *fdWaiters) wanted() IOEvents {
	var ev IOEvents
	if len(fw.read) > 0 {
		ev |= EventRead
	}
	if len(fw.write) > 0 {
		ev |= EventWrite
	}
	return ev
}

// Option configures a Reactor at construction time.
type Option func(*Reactor)

// WithPollInterval bounds how long a single PollIO call may block. Shorter
// intervals tighten the worst-case latency between an external event and the
// poll loop noticing it on backends without a wake mechanism; the default is
// 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if ms := int(d / time.Millisecond); ms > 0 {
			r.pollTimeoutMs = ms
		}
	}
}

// WithLogger sets the structured logger for this Reactor. A nil logger (the
// default) disables logging entirely.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(r *Reactor) { r.logger = l }
}

// Reactor bridges blocking OS handles into the task graph. The poll loop
// runs on its own goroutine; registered waiters are resumed by posting their
// continuation through the captured ExecutorRef, same as any other task
// continuation.
type Reactor struct {
	backend backend
	waker   *pollWaker

	mu      sync.Mutex
	waiters map[Handle]*fdWaiters
	closed  bool

	pollTimeoutMs int
	stop          chan struct{}
	wg            sync.WaitGroup
	logger        *logiface.Logger[logiface.Event]
}

// New constructs a Reactor and starts its poll loop immediately. Callers
// must eventually call Close.
func New(opts ...Option) (*Reactor, error) {
	r := &Reactor{
		waiters:       make(map[Handle]*fdWaiters),
		backend:       &FastPoller{},
		pollTimeoutMs: 100,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.backend.Init(); err != nil {
		return nil, err
	}
	waker, err := newPollWaker(r.backend)
	if err != nil {
		_ = r.backend.Close()
		return nil, err
	}
	r.waker = waker
	r.wg.Add(1)
	go r.pollLoop()
	return r, nil
}

// Close stops the poll loop and releases the platform backend. Waiters
// still registered at the time of Close are left parked; callers should
// cancel their tokens before tearing down a Reactor.
func (r *Reactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.stop)
	r.waker.Wake()
	r.wg.Wait()
	r.waker.Close()
	return r.backend.Close()
}

// pollLoop repeatedly calls PollIO until Close fires. The waker lets Close
// interrupt a PollIO already blocked in its syscall, so the loop does not
// have to wait out a full poll interval before observing the stop channel.
func (r *Reactor) pollLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		if _, err := r.backend.PollIO(r.pollTimeoutMs); err != nil {
			if err == ErrPollerClosed {
				return
			}
			r.logger.Warning().Err(err).Log("reactor poll error")
			// Avoid a hot spin if the backend keeps failing.
			time.Sleep(time.Duration(r.pollTimeoutMs) * time.Millisecond)
		}
	}
}

// WaitUntilReadable returns a Task that completes once h is ready for
// reading or ctx's token is canceled, whichever comes first.
func (r *Reactor) WaitUntilReadable(ctx *async.TaskContext, h Handle) *async.Task[struct{}] {
	return r.wait(ctx, h, EventRead)
}

// WaitUntilWritable returns a Task that completes once h is ready for
// writing or ctx's token is canceled, whichever comes first.
func (r *Reactor) WaitUntilWritable(ctx *async.TaskContext, h Handle) *async.Task[struct{}] {
	return r.wait(ctx, h, EventWrite)
}

func (r *Reactor) wait(ctx *async.TaskContext, h Handle, dir IOEvents) *async.Task[struct{}] {
	return async.Run(ctx, func(ctx *async.TaskContext) (struct{}, asyncerr.AsyncError) {
		w := &waiter{result: make(chan asyncerr.AsyncError, 1)}

		if ctx.Token().Valid() {
			w.reg = ctx.Token().Register(ctx.Executor(), execution.Continuation(func() {}), func() bool {
				r.forget(h, dir, w)
				w.resolve(asyncerr.New(asyncerr.Canceled))
				return false
			})
		}

		if err := r.register(h, dir, w); err != nil {
			if w.reg.Valid() {
				w.reg.Reset()
			}
			return struct{}{}, asyncerr.Wrap(asyncerr.Fault, err)
		}

		err := <-w.result
		if w.reg.Valid() {
			w.reg.Reset()
		}
		return struct{}{}, err
	})
}

// register adds w to h's waiter list for dir, creating the fd's entry and
// telling the backend about it (RegisterFD) if this is the first interest
// on that handle, or updating the watched event set (ModifyFD) if the
// handle is already tracked for the other direction.
func (r *Reactor) register(h Handle, dir IOEvents, w *waiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw, existed := r.waiters[h]
	if !existed {
		fw = &fdWaiters{}
		r.waiters[h] = fw
	}
	if dir == EventRead {
		fw.read = append(fw.read, w)
	} else {
		fw.write = append(fw.write, w)
	}

	if !existed {
		return r.backend.RegisterFD(int(h), fw.wanted(), func(ev IOEvents) { r.onReady(h, ev) })
	}
	return r.backend.ModifyFD(int(h), fw.wanted())
}

// forget removes w from h's waiter list (used when cancellation wins the
// race against readiness), re-syncing or tearing down the backend
// registration if that was the last interest on the handle.
func (r *Reactor) forget(h Handle, dir IOEvents, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw, ok := r.waiters[h]
	if !ok {
		return
	}
	if dir == EventRead {
		fw.read = removeWaiter(fw.read, w)
	} else {
		fw.write = removeWaiter(fw.write, w)
	}
	r.syncLocked(h, fw)
}

// onReady is the backend's per-fd callback. It runs on the poll loop
// goroutine: snapshot and clear the waiters for whichever directions are
// ready, then resolve each outside the lock (resolve posts the
// continuation through the waiter's own captured executor via the Task
// machinery, so this never blocks on user code).
func (r *Reactor) onReady(h Handle, ev IOEvents) {
	r.mu.Lock()
	fw, ok := r.waiters[h]
	if !ok {
		r.mu.Unlock()
		return
	}

	var ready []*waiter
	if ev&(EventRead|EventError|EventHangup) != 0 {
		ready = append(ready, fw.read...)
		fw.read = nil
	}
	if ev&(EventWrite|EventError|EventHangup) != 0 {
		ready = append(ready, fw.write...)
		fw.write = nil
	}
	r.syncLocked(h, fw)
	r.mu.Unlock()

	for _, w := range ready {
		w.resolve(asyncerr.AsyncError{})
	}
}

// syncLocked reconciles the backend's registration for h with the current
// waiter lists: tears it down if empty, otherwise updates the watched
// event set. Must be called with r.mu held.
func (r *Reactor) syncLocked(h Handle, fw *fdWaiters) {
	if len(fw.read) == 0 && len(fw.write) == 0 {
		delete(r.waiters, h)
		_ = r.backend.UnregisterFD(int(h))
		return
	}
	_ = r.backend.ModifyFD(int(h), fw.wanted())
}

func removeWaiter(list []*waiter, w *waiter) []*waiter {
	for i, candidate := range list {
		if candidate == w {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
