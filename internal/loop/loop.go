package loop

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrLoopAlreadyRunning = errors.New("loop: already running")
	ErrLoopTerminated     = errors.New("loop: terminated")
	ErrReentrantRun       = errors.New("loop: cannot call Run from within the loop")
)

// Task is a unit of work submitted to the Loop.
type Task func()

// Timer is a handle to a scheduled timer task, returned by ScheduleTimer.
type Timer struct {
	canceled atomic.Bool
}

// Cancel prevents a pending timer from firing. It is a no-op if the timer
// has already fired or been canceled. Safe to call from any goroutine.
func (t *Timer) Cancel() { t.canceled.Store(true) }

type timerEntry struct {
	when  time.Time
	task  Task
	timer *Timer
}

type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Loop is the reactor that hosts the qmgr scheduler. See package doc.
type Loop struct {
	state *fastState

	submitMu    sync.Mutex
	submitQ     []Task
	submitSpare []Task

	timers timerHeap

	poller poller

	wakeRead, wakeWrite int
	wakeBuf             [8]byte
	wakePending         atomic.Bool

	loopGoroutine atomic.Uint64
	done          chan struct{}
	stopOnce      sync.Once

	// OnTick, if set, is invoked once per tick after draining submitted
	// tasks and firing expired timers - this is the scheduler's selection
	// hook (qmgr.Scheduler.Cycle).
	OnTick func()

	// OnPanic, if set, is invoked (with the recovered value) whenever a
	// submitted Task, timer task, or OnTick call panics. If unset, every
	// panic (qmgr's fail-stop InvariantViolation included) is logged and
	// swallowed. cmd/qmgrd sets it to log InvariantViolation panics and
	// exit(2).
	OnPanic func(recovered any)
}

// New creates a new, un-started Loop.
func New() (*Loop, error) {
	read, write, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		state:     newFastState(),
		wakeRead:  read,
		wakeWrite: write,
		done:      make(chan struct{}),
	}

	if err := l.poller.init(); err != nil {
		_ = unix.Close(read)
		if write != read {
			_ = unix.Close(write)
		}
		return nil, err
	}

	if err := l.poller.registerFD(read, EventRead, func(IOEvents) { l.drainWakePipe() }); err != nil {
		_ = l.poller.close()
		_ = unix.Close(read)
		if write != read {
			_ = unix.Close(write)
		}
		return nil, err
	}

	return l, nil
}

// Run blocks, driving the reactor until ctx is canceled or Shutdown is
// called. Run must not be called from within the loop itself, and must
// not be called concurrently.
func (l *Loop) Run(ctx context.Context) error {
	if l.isLoopGoroutine() {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.Load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	defer close(l.done)

	l.loopGoroutine.Store(goroutineID())
	defer l.loopGoroutine.Store(0)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		state := l.state.Load()
		if state == StateTerminating || state == StateTerminated {
			l.drainAll()
			l.state.Store(StateTerminated)
			l.closeFDs()
			return nil
		}

		select {
		case <-ctx.Done():
			l.state.Store(StateTerminating)
			l.drainAll()
			l.state.Store(StateTerminated)
			l.closeFDs()
			return ctx.Err()
		default:
		}

		l.tick()
	}
}

// tick runs one iteration: drain submitted tasks, fire expired timers,
// invoke OnTick, then block in the poller until the next wakeup or timer
// deadline.
func (l *Loop) tick() {
	l.drainSubmitted()
	l.runTimers()

	if l.OnTick != nil {
		l.safeExecute(l.OnTick)
	}

	if !l.state.TryTransition(StateRunning, StateSleeping) {
		return
	}

	if l.hasPendingWork() {
		l.state.TryTransition(StateSleeping, StateRunning)
		return
	}
	if l.state.Load() == StateTerminating {
		return
	}

	timeout := l.nextTimeout()
	if _, err := l.poller.pollIO(timeout); err != nil {
		log.Printf("loop: pollIO failed: %v", err)
		l.state.TryTransition(StateSleeping, StateTerminating)
		return
	}

	l.state.TryTransition(StateSleeping, StateRunning)
}

func (l *Loop) hasPendingWork() bool {
	l.submitMu.Lock()
	n := len(l.submitQ)
	l.submitMu.Unlock()
	return n > 0
}

func (l *Loop) nextTimeout() int {
	const maxDelayMs = 10_000
	if len(l.timers) == 0 {
		return maxDelayMs
	}
	delay := time.Until(l.timers[0].when)
	if delay <= 0 {
		return 0
	}
	if ms := delay.Milliseconds(); ms < maxDelayMs {
		if ms == 0 {
			return 1
		}
		return int(ms)
	}
	return maxDelayMs
}

func (l *Loop) runTimers() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		e := heap.Pop(&l.timers).(timerEntry)
		if e.timer != nil && e.timer.canceled.Load() {
			continue
		}
		l.safeExecute(e.task)
	}
}

func (l *Loop) drainSubmitted() {
	l.submitMu.Lock()
	q := l.submitQ
	l.submitQ = l.submitSpare
	l.submitMu.Unlock()

	for i, t := range q {
		l.safeExecute(t)
		q[i] = nil
	}
	l.submitSpare = q[:0]
}

func (l *Loop) drainAll() {
	for {
		l.drainSubmitted()
		l.submitMu.Lock()
		empty := len(l.submitQ) == 0
		l.submitMu.Unlock()
		if empty {
			return
		}
	}
}

// Submit enqueues task to run on the loop goroutine. Safe to call from any
// goroutine, including the loop's own.
func (l *Loop) Submit(task Task) error {
	state := l.state.Load()
	if state == StateTerminated {
		return ErrLoopTerminated
	}

	l.submitMu.Lock()
	l.submitQ = append(l.submitQ, task)
	l.submitMu.Unlock()

	l.wake()
	return nil
}

// ScheduleTimer schedules task to run after delay has elapsed, on the loop
// goroutine. Must be called from the loop goroutine (timers are part of
// qmgr's run-to-completion state, e.g. destination retry deadlines).
func (l *Loop) ScheduleTimer(delay time.Duration, task Task) *Timer {
	t := &Timer{}
	heap.Push(&l.timers, timerEntry{when: time.Now().Add(delay), task: task, timer: t})
	return t
}

// RegisterFD registers fd for I/O readiness notification. Must be called
// from the loop goroutine.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return l.poller.registerFD(fd, events, cb)
}

// UnregisterFD removes fd from readiness monitoring.
func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.unregisterFD(fd)
}

// ModifyFD updates the events monitored for fd.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.modifyFD(fd, events)
}

// Shutdown requests graceful termination: pending submitted tasks are
// drained before Run returns. Blocks until Run has returned or ctx expires.
func (l *Loop) Shutdown(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		for {
			cur := l.state.Load()
			if cur == StateTerminated || cur == StateTerminating {
				break
			}
			if l.state.TryTransition(cur, StateTerminating) {
				l.wake()
				break
			}
		}
	})
	select {
	case <-l.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) wake() {
	l.wakePending.Store(true)
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(l.wakeWrite, buf[:])
}

func (l *Loop) drainWakePipe() {
	for {
		if _, err := unix.Read(l.wakeRead, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(false)
}

func (l *Loop) closeFDs() {
	_ = l.poller.close()
	_ = unix.Close(l.wakeRead)
	if l.wakeWrite != l.wakeRead {
		_ = unix.Close(l.wakeWrite)
	}
}

func (l *Loop) safeExecute(t Task) {
	if t == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if l.OnPanic != nil {
				l.OnPanic(r)
				return
			}
			log.Printf("loop: task panicked: %v", r)
		}
	}()
	t()
}

func (l *Loop) isLoopGoroutine() bool {
	id := l.loopGoroutine.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID extracts the calling goroutine's numeric ID from its stack
// trace header, to detect reentrant Run calls and let Submit fast-path
// decisions (if ever added) be thread-affinity aware.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
