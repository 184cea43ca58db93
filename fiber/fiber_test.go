package fiber

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFiberRunsToCompletion(t *testing.T) {
	f := New(8192)
	require.Equal(t, Idle, f.State())

	ran := false
	f.Start(func(fb *Fiber) { ran = true })

	require.True(t, ran)
	require.Equal(t, Completed, f.State())
}

func TestFiberYieldAndResume(t *testing.T) {
	f := New(8192)
	var steps []int

	// Start returns as soon as the fiber parks at its first YieldNow,
	// handing control back to this (the driving) goroutine.
	f.Start(func(fb *Fiber) {
		steps = append(steps, 1)
		fb.YieldNow()
		steps = append(steps, 2)
		fb.YieldNow()
		steps = append(steps, 3)
	})
	require.Equal(t, []int{1}, steps)
	require.Equal(t, Running, f.State())

	f.Resume()
	require.Equal(t, []int{1, 2}, steps)
	require.Equal(t, Running, f.State())

	f.Resume()
	require.Equal(t, []int{1, 2, 3}, steps)
	require.Equal(t, Completed, f.State())
}

func TestFiberCurrentInsideAndOutsideJob(t *testing.T) {
	require.Nil(t, Current())

	f := New(8192)
	var observed *Fiber
	f.Start(func(fb *Fiber) { observed = Current() })
	require.Same(t, f, observed)
	require.Nil(t, Current())
}

func TestFiberCapturesPanic(t *testing.T) {
	f := New(8192)
	f.Start(func(fb *Fiber) { panic("boom") })

	require.Equal(t, Error, f.State())
	require.Equal(t, "boom", f.Err())
}

func TestFiberResetAllowsReuse(t *testing.T) {
	f := New(8192)
	f.Start(func(fb *Fiber) {})
	require.Equal(t, Completed, f.State())

	f.Reset()
	require.Equal(t, Idle, f.State())

	ran := false
	f.Start(func(fb *Fiber) { ran = true })
	require.True(t, ran)
}
