//go:build unix && !linux && !darwin

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// fdSetLimit is select's hard descriptor ceiling (FD_SETSIZE).
const fdSetLimit = 1024

// FastPoller is the portable fallback backend: a plain select(2) loop whose
// interest sets are rebuilt from the shared watch table on every PollIO
// call, since select leaves nothing armed in the kernel between calls.
type FastPoller struct {
	table fdTable
}

func (p *FastPoller) Init() error { return nil }

func (p *FastPoller) Close() error {
	p.table.markClosed()
	return nil
}

func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if fd >= fdSetLimit {
		return ErrFDOutOfRange
	}
	return p.table.add(fd, events, cb)
}

func (p *FastPoller) UnregisterFD(fd int) error {
	_, err := p.table.remove(fd)
	return err
}

func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	_, err := p.table.set(fd, events)
	return err
}

// PollIO builds read/write fd sets from a snapshot of the watch table,
// selects, then walks the same snapshot dispatching callbacks for whichever
// descriptors came back ready in a direction they asked for.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.table.isClosed() {
		return 0, ErrPollerClosed
	}

	watched := p.table.snapshot()
	if len(watched) == 0 {
		time.Sleep(time.Duration(max(timeoutMs, 1)) * time.Millisecond)
		return 0, nil
	}

	var readSet, writeSet unix.FdSet
	maxFD := -1
	for _, w := range watched {
		if w.entry.events&EventRead != 0 {
			readSet.Set(w.fd)
		}
		if w.entry.events&EventWrite != 0 {
			writeSet.Set(w.fd)
		}
		if w.fd > maxFD {
			maxFD = w.fd
		}
	}

	tv := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
	n, err := unix.Select(maxFD+1, &readSet, &writeSet, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	fired := 0
	for _, w := range watched {
		var ev IOEvents
		if w.entry.events&EventRead != 0 && readSet.IsSet(w.fd) {
			ev |= EventRead
		}
		if w.entry.events&EventWrite != 0 && writeSet.IsSet(w.fd) {
			ev |= EventWrite
		}
		if ev != 0 && w.entry.callback != nil {
			w.entry.callback(ev)
			fired++
		}
	}
	return fired, nil
}
