package async

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ngin-org/ngin-async/asyncerr"
	"github.com/ngin-org/ngin-async/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationSource_CancelFiresCallbacksInRegistrationOrder(t *testing.T) {
	s := NewCancellationSource()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
			order = append(order, i)
			return false
		})
	}

	s.Cancel()
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.True(t, s.IsCancellationRequested())
}

func TestCancellationSource_CancelIsIdempotent(t *testing.T) {
	s := NewCancellationSource()

	var calls atomic.Int64
	s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
		calls.Add(1)
		return false
	})

	s.Cancel()
	s.Cancel()
	s.Cancel()
	assert.EqualValues(t, 1, calls.Load())
}

func TestCancellationSource_CallbackReturningTrueSchedulesContinuation(t *testing.T) {
	s := NewCancellationSource()

	var resumed atomic.Bool
	s.Token().Register(execution.InlineRef(), execution.Continuation(func() { resumed.Store(true) }), func() bool {
		return true
	})

	s.Cancel()
	assert.True(t, resumed.Load())
}

func TestCancellationSource_CallbackReturningFalseSuppressesContinuation(t *testing.T) {
	s := NewCancellationSource()

	s.Token().Register(execution.InlineRef(), execution.Continuation(func() {
		t.Fatal("continuation must be suppressed")
	}), func() bool {
		return false
	})

	s.Cancel()
}

func TestCancellationRegistration_ResetDetaches(t *testing.T) {
	s := NewCancellationSource()

	reg := s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
		t.Fatal("callback must not fire after Reset")
		return false
	})
	require.True(t, reg.Valid())

	reg.Reset()
	reg.Reset() // idempotent
	s.Cancel()
}

func TestCancellationToken_RegisterAfterCancelFiresImmediately(t *testing.T) {
	s := NewCancellationSource()
	s.Cancel()

	var fired atomic.Bool
	reg := s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
		fired.Store(true)
		return false
	})

	assert.True(t, fired.Load())
	assert.False(t, reg.Valid())
}

func TestCancellationToken_ZeroValueNeverCancels(t *testing.T) {
	var token CancellationToken
	assert.False(t, token.Valid())
	assert.False(t, token.IsCancellationRequested())

	reg := token.Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
		t.Fatal("unbound token must never fire")
		return false
	})
	assert.False(t, reg.Valid())
}

func TestCancellationSource_ConcurrentCancelAndReset(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := NewCancellationSource()

		var calls atomic.Int64
		reg := s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
			calls.Add(1)
			return false
		})

		done := make(chan struct{}, 2)
		go func() { s.Cancel(); done <- struct{}{} }()
		go func() { reg.Reset(); done <- struct{}{} }()
		<-done
		<-done

		// Whichever won the per-registration CAS, the callback ran at most
		// once.
		assert.LessOrEqual(t, calls.Load(), int64(1))
	}
}

func TestCancellationSource_ManyRegistrationsOneReset(t *testing.T) {
	s := NewCancellationSource()

	var fired atomic.Int64
	regs := make([]CancellationRegistration, 10)
	for i := range regs {
		regs[i] = s.Token().Register(execution.InlineRef(), execution.Continuation(func() {}), func() bool {
			fired.Add(1)
			return false
		})
	}
	regs[4].Reset()

	s.Cancel()
	assert.EqualValues(t, 9, fired.Load())
}

func TestCancellation_DoesNotOutliveOperation(t *testing.T) {
	// A completed Delay must Reset its registration, so a later Cancel finds
	// nothing to fire against the finished operation.
	p := newTestPool(t, 2)
	s := NewCancellationSource()
	ctx := NewTaskContext(p.Ref(), s.Token())

	task := Run(ctx, func(ctx *TaskContext) (struct{}, asyncerr.AsyncError) {
		return struct{}{}, Delay(ctx, 10*time.Millisecond)
	})
	_, err := task.Get()
	require.True(t, err.IsZero())

	s.Cancel() // must be a no-op against the finished delay
}
