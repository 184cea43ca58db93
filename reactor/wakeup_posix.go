//go:build unix

package reactor

import "golang.org/x/sys/unix"

// pollWaker interrupts a PollIO blocked in its syscall, so Close does not
// have to wait out the poll interval. The read end of a platform wake fd
// (eventfd on Linux, a non-blocking self-pipe elsewhere) is registered with
// the backend like any other handle; its callback just drains whatever was
// written so the fd goes quiet again.
type pollWaker struct {
	backend backend
	readFd  int
	writeFd int
}

func newPollWaker(b backend) (*pollWaker, error) {
	readFd, writeFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	w := &pollWaker{backend: b, readFd: readFd, writeFd: writeFd}
	if err := b.RegisterFD(readFd, EventRead, func(IOEvents) { w.drain() }); err != nil {
		w.closeFds()
		return nil, err
	}
	return w, nil
}

// Wake nudges the poll loop. Writing to a full pipe would block, but the fds
// are non-blocking and a wakeup that fails because one is already pending is
// still a wakeup.
func (w *pollWaker) Wake() {
	// Eventfd demands an 8-byte counter increment; a pipe does not care.
	buf := [8]byte{0: 1}
	_, _ = unix.Write(w.writeFd, buf[:])
}

func (w *pollWaker) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.readFd, buf[:]); err != nil {
			return
		}
	}
}

func (w *pollWaker) Close() {
	_ = w.backend.UnregisterFD(w.readFd)
	w.closeFds()
}

func (w *pollWaker) closeFds() {
	if w.writeFd != w.readFd {
		_ = unix.Close(w.writeFd)
	}
	_ = unix.Close(w.readFd)
}
