//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// FastPoller is the Darwin backend: a kqueue instance armed from the shared
// watch table. kqueue has no combined read/write filter, so each direction
// is its own kevent; interest changes are reconciled against the previous
// set and submitted in a single Kevent round trip.
type FastPoller struct {
	table    fdTable
	kq       int
	eventBuf [128]unix.Kevent_t
}

func (p *FastPoller) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *FastPoller) Close() error {
	p.table.markClosed()
	if p.kq > 0 {
		return unix.Close(p.kq)
	}
	return nil
}

func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if err := p.table.add(fd, events, cb); err != nil {
		return err
	}
	if err := p.reconcile(fd, 0, events); err != nil {
		_, _ = p.table.remove(fd)
		return err
	}
	return nil
}

func (p *FastPoller) UnregisterFD(fd int) error {
	events, err := p.table.remove(fd)
	if err != nil {
		return err
	}
	// Disarm failures are ignored: closing the descriptor clears its
	// filters regardless.
	_ = p.reconcile(fd, events, 0)
	return nil
}

func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	old, err := p.table.set(fd, events)
	if err != nil {
		return err
	}
	return p.reconcile(fd, old, events)
}

// reconcile arms the filters present in want but not in have and disarms
// the ones present in have but not in want, in one Kevent submission.
func (p *FastPoller) reconcile(fd int, have, want IOEvents) error {
	changes := make([]unix.Kevent_t, 0, 2)
	for _, dir := range [...]struct {
		mask   IOEvents
		filter int16
	}{
		{EventRead, unix.EVFILT_READ},
		{EventWrite, unix.EVFILT_WRITE},
	} {
		var flags uint16
		switch {
		case want&dir.mask != 0 && have&dir.mask == 0:
			flags = unix.EV_ADD | unix.EV_ENABLE
		case want&dir.mask == 0 && have&dir.mask != 0:
			flags = unix.EV_DELETE
		default:
			continue
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: dir.filter,
			Flags:  flags,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// PollIO waits for kevents and dispatches each through the watch table.
// Entries are copied out under the read lock; callbacks run outside it.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.table.isClosed() {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	fired := 0
	for i := 0; i < n; i++ {
		kev := &p.eventBuf[i]
		entry, ok := p.table.lookup(int(kev.Ident))
		if !ok || entry.callback == nil {
			continue
		}
		entry.callback(readyFromKevent(kev))
		fired++
	}
	return fired, nil
}

func readyFromKevent(kev *unix.Kevent_t) IOEvents {
	var ev IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		ev |= EventRead
	case unix.EVFILT_WRITE:
		ev |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		ev |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		ev |= EventHangup
	}
	return ev
}
