package execution

import "time"

// Inline is an executor that runs everything on the calling goroutine:
// Execute invokes the item immediately, ExecuteAt sleeps out the remaining
// time and then invokes it. Both return only after the item has run. A Task
// scheduled on an Inline ref still runs its body on its own goroutine (see
// async's TrySchedule); only the start and resume items run inline.
type Inline struct{}

func (Inline) execute(item WorkItem) {
	item.Invoke()
}

func (Inline) executeAt(item WorkItem, deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
	item.Invoke()
}

// InlineRef returns an ExecutorRef that runs work inline on whichever
// goroutine calls Execute/ExecuteAt.
func InlineRef() ExecutorRef {
	return refOf(Inline{})
}
