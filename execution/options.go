package execution

import (
	"runtime"

	"github.com/joeycumines/logiface"
	"github.com/ngin-org/ngin-async/clock"
)

// poolOptions holds configuration gathered from PoolOption values.
type poolOptions struct {
	workers    int
	namePrefix string
	logger     *logiface.Logger[logiface.Event]
	clk        clock.Clock
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*poolOptions)

// WithWorkerCount sets the number of worker goroutines. The default is
// runtime.GOMAXPROCS(0). An explicit 0 starts no workers at all: submissions
// queue up until some goroutine drains them via RunOne/RunUntilIdle
// (borrowed execution). Negative values are clamped to 0.
func WithWorkerCount(n int) PoolOption {
	return func(o *poolOptions) {
		if n < 0 {
			n = 0
		}
		o.workers = n
	}
}

// WithNamePrefix sets the prefix used to identify this pool's workers in log
// records, e.g. "myapp.worker" yields "myapp.worker.0", "myapp.worker.1", ...
func WithNamePrefix(prefix string) PoolOption {
	return func(o *poolOptions) { o.namePrefix = prefix }
}

// WithLogger sets the structured logger for this Pool instance. A nil logger
// (the default) disables logging entirely.
func WithLogger(l *logiface.Logger[logiface.Event]) PoolOption {
	return func(o *poolOptions) { o.logger = l }
}

// WithClock substitutes the monotonic clock the timer loop reads. Meant for
// tests that want deadlines judged against a controllable time source.
func WithClock(c clock.Clock) PoolOption {
	return func(o *poolOptions) {
		if c != nil {
			o.clk = c
		}
	}
}

func defaultPoolOptions() poolOptions {
	return poolOptions{
		workers:    runtime.GOMAXPROCS(0),
		namePrefix: "ngin.pool",
		clk:        clock.Default,
	}
}
