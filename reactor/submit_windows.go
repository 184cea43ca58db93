//go:build windows

package reactor

import (
	"sync/atomic"
	"unsafe"

	"github.com/ngin-org/ngin-async/async"
	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/execution"
	"golang.org/x/sys/windows"
)

// DatagramResult is the outcome of a SubmitReceiveFrom completion.
type DatagramResult struct {
	N    int
	From windows.Sockaddr
}

type submitResult struct {
	qty uint32
	err asyncerr.AsyncError
}

// submit drives one overlapped operation through the completion port,
// racing its completion against ctx's cancellation token. start must issue
// the operation with op's embedded Overlapped; a synchronous failure other
// than ERROR_IO_PENDING resolves immediately, anything else resolves when
// the completion packet drains through PollIO.
func (r *Reactor) submit(ctx *async.TaskContext, h Handle, start func(op *ioOperation) error) (uint32, asyncerr.AsyncError) {
	poller := r.backend.(*FastPoller)

	var done atomic.Bool
	resultCh := make(chan submitResult, 1)
	resolve := func(res submitResult) {
		if done.CompareAndSwap(false, true) {
			resultCh <- res
		}
	}

	op, err := poller.prepare(func(qty uint32, opErr error) {
		if opErr != nil {
			code := asyncerr.Fault
			if opErr == windows.ERROR_OPERATION_ABORTED {
				code = asyncerr.Canceled
			}
			resolve(submitResult{err: asyncerr.Wrap(code, opErr)})
			return
		}
		resolve(submitResult{qty: qty})
	})
	if err != nil {
		return 0, asyncerr.Wrap(asyncerr.InvalidState, err)
	}

	var reg async.CancellationRegistration
	if ctx.Token().Valid() {
		reg = ctx.Token().Register(ctx.Executor(), execution.Continuation(func() {}), func() bool {
			// Ask the kernel to abort. Whether the op aborts or had already
			// completed, its packet drains through the port exactly once;
			// whichever of {this resolve, the completion's resolve} wins the
			// CAS reports the outcome.
			_ = windows.CancelIoEx(windows.Handle(h), &op.o)
			resolve(submitResult{err: asyncerr.New(asyncerr.Canceled)})
			return false
		})
	}

	if startErr := start(op); startErr != nil && startErr != windows.ERROR_IO_PENDING {
		resolve(submitResult{err: asyncerr.Wrap(asyncerr.Fault, startErr)})
	}

	res := <-resultCh
	if reg.Valid() {
		reg.Reset()
	}
	return res.qty, res.err
}

// SubmitSend posts an overlapped send of buf on h, completing with the
// transferred byte count.
func (r *Reactor) SubmitSend(ctx *async.TaskContext, h Handle, buf []byte) *async.Task[int] {
	return async.Run(ctx, func(ctx *async.TaskContext) (int, asyncerr.AsyncError) {
		qty, err := r.submit(ctx, h, func(op *ioOperation) error {
			var sent uint32
			b := wsaBuf(buf)
			return windows.WSASend(windows.Handle(h), &b, 1, &sent, 0, &op.o, nil)
		})
		return int(qty), err
	})
}

// SubmitReceive posts an overlapped receive into buf on h, completing with
// the transferred byte count.
func (r *Reactor) SubmitReceive(ctx *async.TaskContext, h Handle, buf []byte) *async.Task[int] {
	return async.Run(ctx, func(ctx *async.TaskContext) (int, asyncerr.AsyncError) {
		qty, err := r.submit(ctx, h, func(op *ioOperation) error {
			var recvd, flags uint32
			b := wsaBuf(buf)
			return windows.WSARecv(windows.Handle(h), &b, 1, &recvd, &flags, &op.o, nil)
		})
		return int(qty), err
	})
}

// SubmitSendTo posts an overlapped datagram send of buf on h to the given
// address, completing with the transferred byte count.
func (r *Reactor) SubmitSendTo(ctx *async.TaskContext, h Handle, buf []byte, to windows.Sockaddr) *async.Task[int] {
	return async.Run(ctx, func(ctx *async.TaskContext) (int, asyncerr.AsyncError) {
		qty, err := r.submit(ctx, h, func(op *ioOperation) error {
			var sent uint32
			b := wsaBuf(buf)
			return windows.WSASendto(windows.Handle(h), &b, 1, &sent, 0, to, &op.o, nil)
		})
		return int(qty), err
	})
}

// SubmitReceiveFrom posts an overlapped datagram receive into buf on h,
// completing with the byte count and the sender's address.
func (r *Reactor) SubmitReceiveFrom(ctx *async.TaskContext, h Handle, buf []byte) *async.Task[DatagramResult] {
	return async.Run(ctx, func(ctx *async.TaskContext) (DatagramResult, asyncerr.AsyncError) {
		// Heap-held so the kernel can fill them after the submitting call
		// returns IO_PENDING.
		from := new(windows.RawSockaddrAny)
		fromLen := new(int32)
		*fromLen = int32(unsafe.Sizeof(*from))

		qty, err := r.submit(ctx, h, func(op *ioOperation) error {
			var recvd, flags uint32
			b := wsaBuf(buf)
			return windows.WSARecvFrom(windows.Handle(h), &b, 1, &recvd, &flags, from, fromLen, &op.o, nil)
		})
		if !err.IsZero() {
			return DatagramResult{}, err
		}
		sa, saErr := from.Sockaddr()
		if saErr != nil {
			return DatagramResult{}, asyncerr.Wrap(asyncerr.Fault, saErr)
		}
		return DatagramResult{N: int(qty), From: sa}, asyncerr.AsyncError{}
	})
}

// SubmitConnect posts an overlapped connect of h to the given address. The
// socket must already be bound, per ConnectEx's contract.
func (r *Reactor) SubmitConnect(ctx *async.TaskContext, h Handle, to windows.Sockaddr) *async.Task[struct{}] {
	return async.Run(ctx, func(ctx *async.TaskContext) (struct{}, asyncerr.AsyncError) {
		_, err := r.submit(ctx, h, func(op *ioOperation) error {
			var sent uint32
			return windows.ConnectEx(windows.Handle(h), to, nil, 0, &sent, &op.o)
		})
		return struct{}{}, err
	})
}

// SubmitAccept posts an overlapped accept on the listener, binding the
// incoming connection to the caller-created accepted socket (which must be
// of the same family and type as the listener). Completes with the accepted
// handle once the connection lands.
func (r *Reactor) SubmitAccept(ctx *async.TaskContext, listener, accepted Handle) *async.Task[Handle] {
	return async.Run(ctx, func(ctx *async.TaskContext) (Handle, asyncerr.AsyncError) {
		// AcceptEx writes both endpoint addresses into this buffer even when
		// no initial data is requested; it must outlive the operation.
		const addrLen = uint32(unsafe.Sizeof(windows.RawSockaddrAny{})) + 16
		addrBuf := make([]byte, addrLen*2)

		_, err := r.submit(ctx, listener, func(op *ioOperation) error {
			var recvd uint32
			return windows.AcceptEx(windows.Handle(listener), windows.Handle(accepted),
				&addrBuf[0], 0, addrLen, addrLen, &recvd, &op.o)
		})
		if !err.IsZero() {
			return 0, err
		}
		return accepted, asyncerr.AsyncError{}
	})
}

func wsaBuf(buf []byte) windows.WSABuf {
	b := windows.WSABuf{Len: uint32(len(buf))}
	if len(buf) > 0 {
		b.Buf = &buf[0]
	}
	return b
}
