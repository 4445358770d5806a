package qmgr

import "github.com/ondeck/qmgr/internal/list"

// Peer is the (message, destination-queue) junction: it owns the
// todo-side entries for that pair (the entries not yet dispatched) and
// is linked into its job's round-robin peer list.
type Peer struct {
	Job   *Job
	Queue *Queue

	// Entries holds this peer's entries while they are on queue.Todo.
	// An entry leaves this list (without moving to another) when it is
	// selected - selection is tracked solely via queue.Busy from then on.
	Entries  *list.List[*Entry]
	Refcount int

	jobElem *list.Elem[*Peer]
}

func newPeer(j *Job, q *Queue) *Peer {
	p := &Peer{
		Job:     j,
		Queue:   q,
		Entries: list.New[*Entry](),
	}
	p.jobElem = j.Peers.PushBack(p)
	if j.peerCurrent == nil {
		j.peerCurrent = p.jobElem
	}
	return p
}
