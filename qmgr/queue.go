package qmgr

import "github.com/ondeck/qmgr/internal/list"

// Queue is the in-memory state for one delivery destination (keyed by
// transport-specific nexthop): its todo and busy entry lists, its
// concurrency window, and its throttle/retry state.
type Queue struct {
	Transport *Transport
	Nexthop   string

	Todo *list.List[*Entry]
	Busy *list.List[*Entry]

	// Window is the current concurrency cap on busy entries. Zero means
	// the queue is dead (throttled).
	Window int

	priorWindow           int
	consecutiveThrottles  int
	TodoRefcount          int
	BusyRefcount          int

	// BlockerTag is stamped with the transport's blockerTag when this
	// queue is the reason a job's full peer scan found nothing
	// selectable. Zero means "never stamped".
	BlockerTag int

	retryTimer canceler
}

// canceler is the subset of *loop.Timer the queue needs; kept as an
// interface so tests can run a Scheduler without a live internal/loop.Loop.
type canceler interface{ Cancel() }

func newQueue(t *Transport, nexthop string) *Queue {
	return &Queue{
		Transport: t,
		Nexthop:   nexthop,
		Todo:      list.New[*Entry](),
		Busy:      list.New[*Entry](),
		Window:    t.DefaultWindow,
	}
}

// Alive reports whether the queue currently accepts new selections.
func (q *Queue) Alive() bool { return q.Window > 0 }

// Empty reports whether the queue has no entries on either list.
func (q *Queue) Empty() bool { return q.Todo.Len() == 0 && q.Busy.Len() == 0 }

// CanAccept reports whether another entry may be selected onto this
// queue's busy list right now.
func (q *Queue) CanAccept() bool { return q.Window > 0 && q.BusyRefcount < q.Window }
