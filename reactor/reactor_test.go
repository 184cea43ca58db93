//go:build unix

package reactor

import (
	"testing"
	"time"

	"github.com/ngin-org/ngin-async/async"
	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T, opts ...Option) *Reactor {
	t.Helper()
	r, err := New(append([]Option{WithPollInterval(20 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTestPool(t *testing.T) *execution.Pool {
	t.Helper()
	p := execution.New(execution.WithWorkerCount(2))
	t.Cleanup(p.Close)
	return p
}

func newPipe(t *testing.T) (readFd, writeFd int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReactor_WaitUntilReadableResumesOnWrite(t *testing.T) {
	r := newTestReactor(t)
	p := newTestPool(t)
	ctx := async.NewTaskContext(p.Ref(), async.CancellationToken{})

	readFd, writeFd := newPipe(t)
	task := r.WaitUntilReadable(ctx, Handle(readFd))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = unix.Write(writeFd, []byte{0x7f})
	}()

	_, err := task.Get()
	require.True(t, err.IsZero())

	// The reactor only signals readiness; the byte must still be there.
	var buf [8]byte
	n, readErr := unix.Read(readFd, buf[:])
	require.NoError(t, readErr)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x7f), buf[0])
}

func TestReactor_WaitUntilWritableCompletesOnEmptyPipe(t *testing.T) {
	r := newTestReactor(t)
	p := newTestPool(t)
	ctx := async.NewTaskContext(p.Ref(), async.CancellationToken{})

	_, writeFd := newPipe(t)
	task := r.WaitUntilWritable(ctx, Handle(writeFd))

	_, err := task.Get()
	assert.True(t, err.IsZero())
}

func TestReactor_CancellationUnparksWaiter(t *testing.T) {
	r := newTestReactor(t)
	p := newTestPool(t)
	source := async.NewCancellationSource()
	ctx := async.NewTaskContext(p.Ref(), source.Token())

	readFd, _ := newPipe(t)
	task := r.WaitUntilReadable(ctx, Handle(readFd))

	time.Sleep(50 * time.Millisecond)
	source.Cancel()

	_, err := task.Get()
	assert.Equal(t, asyncerr.Canceled, err.Code)

	// The waiter must have been torn down: the handle is no longer tracked.
	r.mu.Lock()
	_, tracked := r.waiters[Handle(readFd)]
	r.mu.Unlock()
	assert.False(t, tracked)
}

func TestReactor_TwoWaitersOneHandleBothResume(t *testing.T) {
	r := newTestReactor(t)
	p := newTestPool(t)
	ctx := async.NewTaskContext(p.Ref(), async.CancellationToken{})

	readFd, writeFd := newPipe(t)
	t1 := r.WaitUntilReadable(ctx, Handle(readFd))
	t2 := r.WaitUntilReadable(ctx, Handle(readFd))

	time.Sleep(30 * time.Millisecond)
	_, _ = unix.Write(writeFd, []byte{1})

	_, err1 := t1.Get()
	_, err2 := t2.Get()
	assert.True(t, err1.IsZero())
	assert.True(t, err2.IsZero())
}

func TestReactor_CloseInterruptsBlockedPoll(t *testing.T) {
	r, err := New(WithPollInterval(5 * time.Second))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Close())
	// The waker must interrupt the in-flight poll rather than letting Close
	// wait out the 5s interval.
	assert.Less(t, time.Since(start), time.Second)
}
