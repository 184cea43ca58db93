package async

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/execution"
	"github.com/ngin-org/ngin-async/internal/atomiccond"
)

// Body is the computation a Task runs. It receives the TaskContext it was
// scheduled with and returns either a value or an AsyncError, never both
// meaningfully: a non-zero error means the value is undefined.
type Body[T any] func(ctx *TaskContext) (T, asyncerr.AsyncError)

// promise is the per-task state a Task handle refers to. Go has no
// stackless coroutines, so there is no separate "coroutine frame" distinct
// from the goroutine TrySchedule spawns to run body: the goroutine itself
// is the frame, and its blocking calls (channel receives in Await/Delay/
// Yield) are its suspension points.
type promise[T any] struct {
	started atomic.Bool

	mu           sync.Mutex
	finished     bool
	value        T
	err          asyncerr.AsyncError
	continuation execution.WorkItem
	contExecutor execution.ExecutorRef

	cond *atomiccond.Cond

	body     Body[T]
	executor execution.ExecutorRef
}

// Task is a move-style handle to a promise: a suspendable computation of
// type T that does not begin running until scheduled.
type Task[T any] struct {
	promise *promise[T]
}

// New constructs a Task wrapping body. The body does not run until
// TrySchedule (directly, or via Await/Run) starts it.
func New[T any](body Body[T]) *Task[T] {
	return &Task[T]{promise: &promise[T]{body: body, cond: atomiccond.New()}}
}

// TrySchedule starts the task on ctx's executor, exactly once. Subsequent
// calls (from any goroutine, including a concurrent Await) are no-ops
// returning false. If ctx's executor is invalid, the task completes
// immediately with InvalidState instead of running its body.
func (t *Task[T]) TrySchedule(ctx *TaskContext) bool {
	p := t.promise
	if !p.started.CompareAndSwap(false, true) {
		return false
	}

	p.executor = ctx.Executor()
	if !p.executor.IsValid() {
		var zero T
		p.complete(zero, asyncerr.New(asyncerr.InvalidState))
		return true
	}

	// The start item spawns the body onto its own goroutine: the goroutine is
	// the coroutine frame, and it parks at suspension points. Workers only
	// ever run the cheap start/resume items, so a pool with fewer workers
	// than suspended tasks cannot wedge.
	p.executor.Execute(execution.Job(func() {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					var zero T
					p.complete(zero, asyncerr.Wrap(asyncerr.Fault, fmt.Errorf("task body panic: %v", r)))
				}
			}()
			value, err := p.body(ctx)
			p.complete(value, err)
		}()
	}))
	return true
}

// Schedule is an alias for TrySchedule, matching the vocabulary used by
// callers that do not care about the return value.
func (t *Task[T]) Schedule(ctx *TaskContext) bool {
	return t.TrySchedule(ctx)
}

// IsCompleted reports whether the task has reached its finished state.
func (t *Task[T]) IsCompleted() bool {
	p := t.promise
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// IsRunning reports whether the task has started but not yet finished.
func (t *Task[T]) IsRunning() bool {
	return t.promise.started.Load() && !t.IsCompleted()
}

// IsFaulted reports whether the task finished with a non-Canceled error.
func (t *Task[T]) IsFaulted() bool {
	p := t.promise
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished && !p.err.IsZero() && p.err.Code != asyncerr.Canceled
}

// IsCanceled reports whether the task finished with a Canceled error.
func (t *Task[T]) IsCanceled() bool {
	p := t.promise
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished && p.err.Code == asyncerr.Canceled
}

// Wait blocks the calling goroutine until the task finishes. Unlike Await,
// it does not suspend cooperatively through an executor and ignores
// cancellation: it is meant for synchronous callers outside the task graph
// (tests, top-level driver code) rather than for use inside a task body.
func (t *Task[T]) Wait() {
	p := t.promise
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	gen := p.cond.Load()
	p.mu.Unlock()
	p.cond.Wait(gen)
}

// Get blocks until the task finishes and returns its result.
func (t *Task[T]) Get() (T, asyncerr.AsyncError) {
	t.Wait()
	p := t.promise
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Await is the in-task-body suspension point for awaiting another Task: it
// starts the child if needed (propagating ctx's executor if the child has
// none captured yet), registers a continuation that wakes the calling
// goroutine when the child finishes, races that against ctx's cancellation
// token, and returns whichever fires first.
func (t *Task[T]) Await(ctx *TaskContext) (T, asyncerr.AsyncError) {
	p := t.promise
	t.TrySchedule(ctx)

	resumeCh := make(chan struct{})
	var once sync.Once
	var outcome atomic.Int32 // 0 pending, 1 completed, 2 canceled

	var reg CancellationRegistration
	if ctx.Token().Valid() {
		reg = ctx.Token().Register(ctx.Executor(), execution.Job(func() {}), func() bool {
			if outcome.CompareAndSwap(0, 2) {
				once.Do(func() { close(resumeCh) })
			}
			return false
		})
	}

	p.setContinuation(ctx.Executor(), execution.Job(func() {
		if outcome.CompareAndSwap(0, 1) {
			once.Do(func() { close(resumeCh) })
		}
	}))

	<-resumeCh
	if reg.Valid() {
		reg.Reset()
	}

	if outcome.Load() == 2 {
		var zero T
		return zero, asyncerr.New(asyncerr.Canceled)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

func (p *promise[T]) complete(value T, err asyncerr.AsyncError) {
	p.mu.Lock()
	p.value = value
	p.err = err
	p.finished = true
	cont := p.continuation.Take()
	executor := p.contExecutor
	p.mu.Unlock()

	p.cond.NotifyAll()

	if !cont.IsEmpty() {
		if executor.IsValid() {
			executor.Execute(cont)
		} else {
			cont.Invoke()
		}
	}
}

// setContinuation attaches the work item to run once this promise finishes.
// If it has already finished, the item runs (or is posted) immediately
// instead, since complete has already taken and delivered whatever
// continuation was present at that time.
func (p *promise[T]) setContinuation(executor execution.ExecutorRef, item execution.WorkItem) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		if executor.IsValid() {
			executor.Execute(item)
		} else {
			item.Invoke()
		}
		return
	}
	p.continuation = item
	p.contExecutor = executor
	p.mu.Unlock()
}
