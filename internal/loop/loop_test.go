package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = l.Run(ctx) }()
	return l
}

func TestSubmitRunsOnLoop(t *testing.T) {
	l := newTestLoop(t)

	done := make(chan struct{})
	require.NoError(t, l.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted task did not run")
	}
}

func TestScheduleTimerFires(t *testing.T) {
	l := newTestLoop(t)

	fired := make(chan struct{})
	require.NoError(t, l.Submit(func() {
		l.ScheduleTimer(10*time.Millisecond, func() { close(fired) })
	}))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestScheduleTimerCancel(t *testing.T) {
	l := newTestLoop(t)

	var fired atomic.Bool
	timerSet := make(chan *Timer, 1)
	require.NoError(t, l.Submit(func() {
		timerSet <- l.ScheduleTimer(20*time.Millisecond, func() { fired.Store(true) })
	}))

	tm := <-timerSet
	tm.Cancel()

	time.Sleep(80 * time.Millisecond)
	require.False(t, fired.Load())
}

func TestShutdownDrainsAndStops(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()

	ran := make(chan struct{})
	require.NoError(t, l.Submit(func() { close(ran) }))
	<-ran

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(shutdownCtx))

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	require.ErrorIs(t, l.Submit(func() {}), ErrLoopTerminated)
}

func TestRunRejectsReentrantCall(t *testing.T) {
	l := newTestLoop(t)

	result := make(chan error, 1)
	require.NoError(t, l.Submit(func() {
		result <- l.Run(context.Background())
	}))

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Run did not return")
	}
}
