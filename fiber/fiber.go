// Package fiber implements the stackful execution substrate described in
// the engine's asynchronous core: a pool of switchable execution contexts
// for jobs that need a private, real call stack (blocking C-style calls,
// stack-unwinding tooling) rather than the cooperative goroutine-as-frame
// model the async package uses for ordinary task bodies.
//
// Go exposes no portable equivalent of ucontext/CreateFiberEx, so a Fiber
// here is backed by its own goroutine: the goroutine's stack is the fiber's
// stack, and Resume/YieldNow hand off control through an unbuffered
// channel pair rather than a register-level context switch. Exactly one of
// {the resuming goroutine, the fiber's goroutine} runs at a time, keeping
// switching cooperative and non-preemptive even though the underlying
// mechanism is not a stack swap.
package fiber

import (
	"sync"
	"sync/atomic"

	"github.com/ngin-org/ngin-async/internal/goroutineid"
)

// hostedFibers maps a fiber job's backing goroutine id to its Fiber, so
// code handed to a fiber as a plain nullary job can still reach the fiber
// it runs on (and in particular call YieldNow). It plays the role of a
// per-thread current-fiber record.
var hostedFibers sync.Map // goroutine id (uint64) -> *Fiber

// Current returns the Fiber hosting the calling goroutine, or nil when the
// caller is not running inside a fiber job.
func Current() *Fiber {
	if v, ok := hostedFibers.Load(goroutineid.Current()); ok {
		return v.(*Fiber)
	}
	return nil
}

// State is a Fiber's lifecycle stage.
type State int32

const (
	// Idle is the state of a freshly constructed or recycled Fiber with no
	// job assigned.
	Idle State = iota
	// Running is set from Start until the job returns, including while the
	// job is parked at YieldNow.
	Running
	// Completed marks a successful return from the job.
	Completed
	// Error marks a job that panicked; the recovered value is available
	// via Err.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Job is the callback a Fiber runs, handed the Fiber itself, when Start
// first switches into it. It runs to completion across as many YieldNow calls as it likes.
type Job func(f *Fiber)

// Fiber is a single switchable execution context: a goroutine parked behind
// a handoff channel, plus a state and an optional recovered panic value.
// Fibers are moved, never copied; the zero value is not usable, construct
// with New.
type Fiber struct {
	stackSize int
	state     atomic.Int32

	resumeCh chan struct{}
	yieldCh  chan struct{}

	job    Job
	err    any
	once   sync.Once
	inited bool
}

// New constructs a Fiber sized for stackSize bytes. Go's runtime grows
// goroutine stacks on demand rather than pre-allocating a fixed region, so
// stackSize is recorded as a sizing hint but does not itself reserve
// memory.
func New(stackSize int) *Fiber {
	return &Fiber{
		stackSize: stackSize,
		resumeCh:  make(chan struct{}),
		yieldCh:   make(chan struct{}),
	}
}

// State reports the fiber's current lifecycle stage.
func (f *Fiber) State() State {
	return State(f.state.Load())
}

// Err returns the recovered panic value from a job that left the fiber in
// the Error state, or nil otherwise.
func (f *Fiber) Err() any {
	return f.err
}

// Start assigns job to an Idle fiber and performs the first switch into it,
// running job until its first YieldNow or return. Panics if the fiber is
// not Idle.
func (f *Fiber) Start(job Job) {
	if State(f.state.Load()) != Idle {
		panic("fiber: Start called on a non-idle fiber")
	}
	f.job = job
	f.state.Store(int32(Running))

	f.once.Do(func() {
		go f.run()
	})
	f.inited = true

	f.resumeCh <- struct{}{}
	<-f.yieldCh
}

// Resume switches back into a fiber previously parked by YieldNow. Panics
// if the fiber was never started or has already reached a terminal state.
func (f *Fiber) Resume() {
	switch State(f.state.Load()) {
	case Completed, Error:
		panic("fiber: Resume called on a terminal fiber")
	case Idle:
		panic("fiber: Resume called before Start")
	}
	f.state.Store(int32(Running))
	f.resumeCh <- struct{}{}
	<-f.yieldCh
}

// YieldNow parks the calling fiber's goroutine and switches control back to
// whichever goroutine last called Start or Resume. It must be called from
// inside the fiber's own job, never from the resuming side.
func (f *Fiber) YieldNow() {
	f.yieldCh <- struct{}{}
	<-f.resumeCh
}

// run is the fiber's backing goroutine for one job. It waits for the first
// resume, executes the job with panic recovery, hands control back to the
// resuming side once the job returns, and exits. A fiber recycled through
// Reset reuses the struct, not the goroutine: the next Start spawns a fresh
// one.
func (f *Fiber) run() {
	<-f.resumeCh
	id := goroutineid.Current()
	hostedFibers.Store(id, f)
	defer hostedFibers.Delete(id)
	func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = r
				f.state.Store(int32(Error))
			}
		}()
		f.job(f)
		if State(f.state.Load()) == Running {
			f.state.Store(int32(Completed))
		}
	}()
	f.yieldCh <- struct{}{}
}

// Reset returns a terminal fiber to Idle so it can be handed a new job.
// Because Go goroutines cannot be rewound, Reset discards the old backing
// goroutine (which has already exited) and clears once so the next Start
// spawns a fresh one.
func (f *Fiber) Reset() {
	switch State(f.state.Load()) {
	case Completed, Error:
	default:
		panic("fiber: Reset called on a fiber that has not terminated")
	}
	f.state.Store(int32(Idle))
	f.err = nil
	f.once = sync.Once{}
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
}
