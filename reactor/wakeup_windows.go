//go:build windows

package reactor

// pollWaker interrupts a GetQueuedCompletionStatus blocked in its wait. On
// Windows no auxiliary handle is needed: posting a null completion packet to
// the IOCP makes the blocked call return with a nil overlapped pointer,
// which PollIO treats as a wakeup.
type pollWaker struct {
	poller *FastPoller
}

func newPollWaker(b backend) (*pollWaker, error) {
	return &pollWaker{poller: b.(*FastPoller)}, nil
}

func (w *pollWaker) Wake() {
	_ = w.poller.Wakeup()
}

func (w *pollWaker) Close() {}
