package loop

import "sync/atomic"

// State represents the current state of the Loop.
//
//	StateAwake (0)   -> StateRunning (3)    [Run]
//	StateRunning     -> StateSleeping (2)   [poll, via CAS]
//	StateRunning     -> StateTerminating(4) [Shutdown]
//	StateSleeping    -> StateRunning        [poll wake, via CAS]
//	StateSleeping    -> StateTerminating    [Shutdown]
//	StateTerminating -> StateTerminated(1)  [shutdown complete]
//	StateTerminated  -> (terminal)
type State uint64

const (
	StateAwake       State = 0
	StateTerminated  State = 1
	StateSleeping    State = 2
	StateRunning     State = 3
	StateTerminating State = 4
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state machine, using pure CAS with no mutex.
type fastState struct {
	v atomic.Uint64
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *fastState) Load() State { return State(s.v.Load()) }

func (s *fastState) Store(state State) { s.v.Store(uint64(state)) }

func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}
