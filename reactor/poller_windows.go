//go:build windows

package reactor

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ioOperation is one outstanding overlapped operation submitted to the
// completion port. The embedded Overlapped must be the first field: the
// pointer GetQueuedCompletionStatus hands back is cast straight back to
// *ioOperation, which is the standard IOCP idiom for carrying per-op state
// through the kernel.
type ioOperation struct {
	o  windows.Overlapped
	cb func(qty uint32, err error)
}

// FastPoller is the Windows backend: an I/O completion port. Unlike the
// readiness-based Unix backends, completion is per operation — callers
// associate a socket once via RegisterFD, then submit overlapped ops whose
// callbacks fire as completion packets drain through PollIO. The shared
// watch table records interest for API symmetry with the other backends;
// it drives no kernel state here.
type FastPoller struct {
	table fdTable
	iocp  windows.Handle
}

// Init initializes the completion port.
func (p *FastPoller) Init() error {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	p.iocp = iocp
	return nil
}

// Close closes the completion port.
func (p *FastPoller) Close() error {
	p.table.markClosed()
	if p.iocp != 0 {
		return windows.CloseHandle(p.iocp)
	}
	return nil
}

// RegisterFD associates a socket handle with the completion port.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if err := p.table.add(fd, events, cb); err != nil {
		return err
	}
	if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, 0, 0); err != nil {
		_, _ = p.table.remove(fd)
		return err
	}
	return nil
}

// UnregisterFD removes a handle from tracking. The port association itself
// lives until the handle is closed; in-flight overlapped ops still complete
// and their per-op callbacks still fire.
func (p *FastPoller) UnregisterFD(fd int) error {
	_, err := p.table.remove(fd)
	return err
}

// ModifyFD updates the recorded interest set for a handle. On a completion
// port the watched set has no kernel-side meaning; what runs is whatever
// overlapped ops the caller submits.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	_, err := p.table.set(fd, events)
	return err
}

// prepare allocates the per-op completion record for an overlapped
// submission. The returned operation must be pinned by the caller until its
// callback fires.
func (p *FastPoller) prepare(cb func(qty uint32, err error)) (*ioOperation, error) {
	if p.table.isClosed() {
		return nil, ErrPollerClosed
	}
	return &ioOperation{cb: cb}, nil
}

// PollIO drains one completion packet, firing the submitting operation's
// callback with the transferred byte count or the operation's failure. A
// nil overlapped pointer is a wakeup posted by PostQueuedCompletionStatus.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.table.isClosed() {
		return 0, ErrPollerClosed
	}

	timeout := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		timeout = uint32(timeoutMs)
	}

	var qty uint32
	var key uintptr
	var overlapped *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(p.iocp, &qty, &key, &overlapped, timeout)
	if overlapped == nil {
		if err != nil {
			if errno, ok := err.(syscall.Errno); ok {
				if errno == windows.WAIT_TIMEOUT {
					return 0, nil
				}
				if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
					return 0, ErrPollerClosed
				}
			}
			return 0, err
		}
		// Wakeup packet.
		return 0, nil
	}

	// A failed op still surfaces through its callback; the poll loop itself
	// keeps running.
	op := (*ioOperation)(unsafe.Pointer(overlapped))
	op.cb(qty, err)
	return 1, nil
}

// Wakeup wakes up the poller from another thread.
func (p *FastPoller) Wakeup() error {
	if p.table.isClosed() {
		return ErrPollerClosed
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}
