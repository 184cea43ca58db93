package execution

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/ngin-org/ngin-async/internal/atomiccond"
	"github.com/ngin-org/ngin-async/internal/goroutineid"
)

// Pool is a multi-worker, work-stealing executor: each worker owns a local
// deque it pushes and pops from the tail, idle workers steal from the head
// of a sibling's deque, and a single injection queue absorbs work submitted
// by goroutines the pool does not own. A dedicated timer goroutine drains a
// deadline-ordered heap and resubmits items through the same path once they
// come due.
type Pool struct {
	opts      poolOptions
	queues    []*workerQueue
	injection *injectionQueue
	workCond  *atomiccond.Cond

	timerMu   sync.Mutex
	timers    timerHeap
	timerCond *atomiccond.Cond

	workerIDs sync.Map // goroutine id (uint64) -> worker index (int)
	stopping  atomic.Bool
	wg        sync.WaitGroup
	logger    *logiface.Logger[logiface.Event]

	localPushes     atomic.Uint64
	injectionPushes atomic.Uint64
	steals          atomic.Uint64
	timerFires      atomic.Uint64
}

// Stats is a point-in-time snapshot of a Pool's scheduling counters.
type Stats struct {
	// LocalPushes counts submissions that landed on the submitting worker's
	// own deque.
	LocalPushes uint64
	// InjectionPushes counts submissions from goroutines outside the pool.
	InjectionPushes uint64
	// Steals counts items taken from the head of another worker's deque.
	Steals uint64
	// TimerFires counts timer-heap entries resubmitted after their deadline.
	TimerFires uint64
}

// New starts a Pool with the given options and launches its worker and
// timer goroutines immediately. Callers must eventually call Close.
func New(opts ...PoolOption) *Pool {
	o := defaultPoolOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool{
		opts:      o,
		queues:    make([]*workerQueue, o.workers),
		injection: newInjectionQueue(),
		workCond:  atomiccond.New(),
		timerCond: atomiccond.New(),
		logger:    o.logger,
	}
	for i := range p.queues {
		p.queues[i] = newWorkerQueue()
	}

	p.wg.Add(o.workers + 1)
	for i := 0; i < o.workers; i++ {
		go p.workerLoop(i)
	}
	go p.timerLoop()

	p.logger.Debug().
		Str("pool", o.namePrefix).
		Int("workers", o.workers).
		Log("pool started")
	return p
}

// Ref returns an ExecutorRef bound to this pool.
func (p *Pool) Ref() ExecutorRef {
	return refOf(p)
}

// Stats returns a snapshot of the pool's scheduling counters.
func (p *Pool) Stats() Stats {
	return Stats{
		LocalPushes:     p.localPushes.Load(),
		InjectionPushes: p.injectionPushes.Load(),
		Steals:          p.steals.Load(),
		TimerFires:      p.timerFires.Load(),
	}
}

// localWorkerIndex reports whether the calling goroutine is one of this
// pool's own workers, and if so, which one. A goroutine's id is not stable
// API, but it is stable for the goroutine's own lifetime, which is all a
// worker loop needs.
func (p *Pool) localWorkerIndex() (int, bool) {
	v, ok := p.workerIDs.Load(goroutineid.Current())
	if !ok {
		return 0, false
	}
	return v.(int), true
}

// execute implements executorOps. If the calling goroutine is one of this
// pool's workers, item goes straight onto that worker's own deque (LIFO,
// cache-warm, no lock contention with thieves beyond the deque's own
// spinlock). Otherwise it goes on the shared injection queue.
func (p *Pool) execute(item WorkItem) {
	if item.IsEmpty() {
		return
	}
	if idx, ok := p.localWorkerIndex(); ok {
		p.queues[idx].push(item)
		p.localPushes.Add(1)
	} else {
		p.injection.push(item)
		p.injectionPushes.Add(1)
	}
	p.workCond.NotifyAll()
}

// executeAt implements executorOps. A deadline that has already passed runs
// item immediately through the normal submission path; otherwise it is
// parked on the timer heap until the timer goroutine pops it.
func (p *Pool) executeAt(item WorkItem, deadline time.Time) {
	if item.IsEmpty() {
		return
	}
	if !deadline.After(p.opts.clk.Now()) {
		p.execute(item)
		return
	}
	p.timerMu.Lock()
	heap.Push(&p.timers, timerEntry{deadline: deadline, item: item})
	p.timerMu.Unlock()
	p.timerCond.NotifyAll()
}

// workerLoop is the body run by each worker goroutine: pop local, drain the
// injection queue, steal round-robin from siblings, and park when all three
// come up empty. The park uses the double-check idiom against workCond's
// generation counter so a Notify racing the check is never lost.
func (p *Pool) workerLoop(idx int) {
	defer p.wg.Done()

	id := goroutineid.Current()
	p.workerIDs.Store(id, idx)
	defer p.workerIDs.Delete(id)

	p.logger.Debug().
		Str("worker", fmt.Sprintf("%s.%d", p.opts.namePrefix, idx)).
		Log("worker started")

	q := p.queues[idx]
	for {
		if item, ok := p.pollOnce(idx, q); ok {
			item.Invoke()
			continue
		}
		if p.stopping.Load() {
			return
		}

		gen := p.workCond.Load()
		if item, ok := p.pollOnce(idx, q); ok {
			item.Invoke()
			continue
		}
		if p.stopping.Load() {
			return
		}
		p.workCond.Wait(gen)
	}
}

// pollOnce tries, in order, this worker's own deque, the injection queue,
// and a round-robin steal from every other worker's deque.
func (p *Pool) pollOnce(idx int, q *workerQueue) (WorkItem, bool) {
	if item, ok := q.tryPop(); ok {
		return item, true
	}
	if item, ok := p.injection.tryPop(); ok {
		return item, true
	}
	n := len(p.queues)
	for i := 1; i < n; i++ {
		j := (idx + i) % n
		if item, ok := p.queues[j].trySteal(); ok {
			p.steals.Add(1)
			return item, true
		}
	}
	return WorkItem{}, false
}

// timerLoop pops due entries off the timer heap and resubmits them through
// execute. It parks on timerCond when the heap is empty, or for exactly the
// gap to the earliest deadline otherwise.
func (p *Pool) timerLoop() {
	defer p.wg.Done()

	for {
		p.timerMu.Lock()
		if p.stopping.Load() {
			p.timerMu.Unlock()
			return
		}
		if len(p.timers) == 0 {
			gen := p.timerCond.Load()
			p.timerMu.Unlock()
			p.timerCond.Wait(gen)
			continue
		}

		now := p.opts.clk.Now()
		if !p.timers[0].deadline.After(now) {
			entry := heap.Pop(&p.timers).(timerEntry)
			p.timerMu.Unlock()
			p.timerFires.Add(1)
			p.execute(entry.item)
			continue
		}

		wait := p.timers[0].deadline.Sub(now)
		gen := p.timerCond.Load()
		p.timerMu.Unlock()
		p.timerCond.WaitFor(gen, wait)
	}
}

// RunOne attempts to run a single pending item on the calling goroutine,
// trying the injection queue first and then stealing from any worker's
// deque. It reports whether it found anything to run. Intended for
// borrowed-execution use by callers that are not themselves pool workers.
func (p *Pool) RunOne() bool {
	if item, ok := p.injection.tryPop(); ok {
		item.Invoke()
		return true
	}
	for _, q := range p.queues {
		if item, ok := q.trySteal(); ok {
			p.steals.Add(1)
			item.Invoke()
			return true
		}
	}
	return false
}

// RunUntilIdle calls RunOne on the calling goroutine until no work remains
// to be found. Timer entries not yet due are left untouched.
func (p *Pool) RunUntilIdle() {
	for p.RunOne() {
	}
}

// CancelAll discards every pending item across all deques, the injection
// queue, and the timer heap without invoking any of them. Items already
// running are unaffected.
func (p *Pool) CancelAll() {
	dropped := 0
	for _, q := range p.queues {
		dropped += q.clear()
	}
	dropped += p.injection.clear()
	p.timerMu.Lock()
	dropped += len(p.timers)
	p.timers = p.timers[:0]
	p.timerMu.Unlock()

	p.logger.Debug().
		Str("pool", p.opts.namePrefix).
		Int("dropped", dropped).
		Log("cancel all")
}

// Close signals every worker and the timer goroutine to stop once their
// current poll finds no more work, then waits for all of them to exit.
// Workers run the queued items they can still find before exiting; timer
// entries not yet due (and, in a pool with no workers, every queued item)
// are left in place. Call CancelAll first to discard pending items.
func (p *Pool) Close() {
	p.stopping.Store(true)
	p.workCond.NotifyAll()
	p.timerCond.NotifyAll()
	p.wg.Wait()

	s := p.Stats()
	p.logger.Debug().
		Str("pool", p.opts.namePrefix).
		Uint64("local", s.LocalPushes).
		Uint64("injected", s.InjectionPushes).
		Uint64("stolen", s.Steals).
		Uint64("timer", s.TimerFires).
		Log("pool stopped")
}
