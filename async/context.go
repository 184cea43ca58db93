package async

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/clock"
	"github.com/ngin-org/ngin-async/execution"
)

// TaskContext bundles the capability a task body runs with: an executor to
// schedule continuations on and a cancellation token to observe or register
// against. It also exposes the convenience suspension points (Yield, Delay,
// Run) that build task/awaiter pairs rooted on the same executor, so a body
// never has to thread an ExecutorRef through by hand.
type TaskContext struct {
	executor execution.ExecutorRef
	token    CancellationToken
}

// NewTaskContext binds an executor and a cancellation token into a
// TaskContext. An unbound token (the zero value) is accepted and simply never
// cancels.
func NewTaskContext(executor execution.ExecutorRef, token CancellationToken) *TaskContext {
	return &TaskContext{executor: executor, token: token}
}

// Executor returns the executor this context schedules work on.
func (c *TaskContext) Executor() execution.ExecutorRef {
	return c.executor
}

// Token returns the cancellation token this context observes.
func (c *TaskContext) Token() CancellationToken {
	return c.token
}

// WithToken returns a copy of c bound to a different cancellation token,
// keeping the same executor. Used by composition helpers that want to layer
// a narrower cancellation scope over an outer context.
func (c *TaskContext) WithToken(token CancellationToken) *TaskContext {
	return &TaskContext{executor: c.executor, token: token}
}

// Yield always suspends the calling task body and resumes it via Execute on
// the context's own executor, giving other ready work a chance to run first.
// Once resumed, the body also yields its goroutine to the Go scheduler, so
// other runnable task bodies get a turn before it continues.
// It is not a cancellation point: a Yield always completes.
func Yield(ctx *TaskContext) {
	resumeCh := make(chan struct{})
	ctx.executor.Execute(execution.Continuation(func() { close(resumeCh) }))
	<-resumeCh
	runtime.Gosched()
}

// Delay suspends the calling task body for at least d, racing the wait
// against ctx's cancellation token. Delay(0) (or any non-positive duration)
// completes on the next scheduling tick rather than blocking on the timer.
// Whichever of {timer fires, token cancels} wins the race determines the
// returned error; the loser's callback is a no-op.
func Delay(ctx *TaskContext, d time.Duration) asyncerr.AsyncError {
	if d <= 0 {
		Yield(ctx)
		return asyncerr.AsyncError{}
	}

	resumeCh := make(chan struct{})
	var once sync.Once
	var outcome atomic.Int32 // 0 pending, 1 fired, 2 canceled

	var reg CancellationRegistration
	if ctx.token.Valid() {
		reg = ctx.token.Register(ctx.executor, execution.Continuation(func() {}), func() bool {
			if outcome.CompareAndSwap(0, 2) {
				once.Do(func() { close(resumeCh) })
			}
			return false
		})
	}

	ctx.executor.ExecuteAt(execution.Continuation(func() {
		if outcome.CompareAndSwap(0, 1) {
			once.Do(func() { close(resumeCh) })
		}
	}), clock.Default.Now().Add(d))

	<-resumeCh
	if reg.Valid() {
		reg.Reset()
	}

	if outcome.Load() == 2 {
		return asyncerr.New(asyncerr.Canceled)
	}
	return asyncerr.AsyncError{}
}

// Run constructs a Task from body and schedules it on ctx's executor
// immediately, returning the handle. It is the convenience form of
// New(body) followed by TrySchedule(ctx).
func Run[T any](ctx *TaskContext, body Body[T]) *Task[T] {
	t := New(body)
	t.TrySchedule(ctx)
	return t
}

// ContinueWith composes parent.Await -> f(value, err) -> returns, running
// the composition inside a freshly scheduled child task so that the caller
// gets back a Task it can itself await, cancel-race, or ignore. Cancellation
// of ctx's token collapses the whole chain: f observes it the same way any
// task body does, via ctx.Token().
func ContinueWith[T, U any](ctx *TaskContext, parent *Task[T], f func(ctx *TaskContext, value T, err asyncerr.AsyncError) (U, asyncerr.AsyncError)) *Task[U] {
	return Run(ctx, func(ctx *TaskContext) (U, asyncerr.AsyncError) {
		value, err := parent.Await(ctx)
		return f(ctx, value, err)
	})
}

// WhenAll schedules every task (if not already started) on ctx's executor,
// then waits for all of them in turn, returning their results in input
// order. The first error encountered (by input order, not completion order)
// is returned in place of a result slice; cancellation of ctx's token
// surfaces as a Canceled error from whichever Await observes it first.
func WhenAll[T any](ctx *TaskContext, tasks ...*Task[T]) *Task[[]T] {
	return Run(ctx, func(ctx *TaskContext) ([]T, asyncerr.AsyncError) {
		for _, t := range tasks {
			t.TrySchedule(ctx)
		}

		results := make([]T, len(tasks))
		var firstErr asyncerr.AsyncError
		for i, t := range tasks {
			value, err := t.Await(ctx)
			results[i] = value
			if !err.IsZero() && firstErr.IsZero() {
				firstErr = err
			}
		}
		if !firstErr.IsZero() {
			return nil, firstErr
		}
		return results, asyncerr.AsyncError{}
	})
}

// WhenAny schedules every task (if not already started), then returns the
// result of whichever finishes first. The rest continue running in the
// background; their eventual results are discarded by this call.
func WhenAny[T any](ctx *TaskContext, tasks ...*Task[T]) *Task[T] {
	return Run(ctx, func(ctx *TaskContext) (T, asyncerr.AsyncError) {
		for _, t := range tasks {
			t.TrySchedule(ctx)
		}

		type outcome struct {
			value T
			err   asyncerr.AsyncError
		}
		resultCh := make(chan outcome, len(tasks))
		for _, t := range tasks {
			t := t
			go func() {
				value, err := t.Get()
				select {
				case resultCh <- outcome{value, err}:
				default:
				}
			}()
		}
		r := <-resultCh
		return r.value, r.err
	})
}
