package qmgr

import "github.com/ondeck/qmgr/internal/list"

// EntryList names which of a destination queue's lists an entry is
// expected to be on, for the done() contract.
type EntryList int

const (
	EntryTodo EntryList = iota
	EntryBusy
)

func (l EntryList) String() string {
	if l == EntryBusy {
		return "busy"
	}
	return "todo"
}

// Entry is one delivery unit: a subset of a message's recipients bound
// for one destination queue, sized at most a transport's recipient
// limit. It lives on exactly one of {todo, busy} of its destination
// queue, and additionally on its peer's entry list while on todo.
type Entry struct {
	Peer       *Peer
	Recipients []Recipient

	busy       bool
	streamOpen bool

	peerElem  *list.Elem[*Entry]
	queueElem *list.Elem[*Entry]
}

// Busy reports whether the entry currently sits on its queue's busy
// list (has been selected and not yet completed).
func (e *Entry) Busy() bool { return e.busy }

// OpenStream marks the entry as currently dispatched to a worker; done()
// refuses to free an entry with an open stream (fail-stop).
func (e *Entry) OpenStream()  { e.streamOpen = true }
func (e *Entry) CloseStream() { e.streamOpen = false }

// CreateEntry allocates an entry bound to peer, carrying recipients, and
// appends it to the peer's entry list and the destination queue's todo
// list. Panics if the queue is dead - the caller (the ingestion path)
// must check Queue.Alive itself before calling CreateEntry; a dead-queue
// create reaching here is a programming error, not a runtime condition.
// Returns nil, creating nothing, when the global recipient limit
// (MessageRecipientLimit) is configured to zero.
func (s *Scheduler) CreateEntry(peer *Peer, recipients []Recipient) *Entry {
	if !peer.Queue.Alive() {
		panicInvariant("create", "entry created against a dead destination queue")
	}
	if s.cfg.MessageRecipientLimit == 0 {
		return nil
	}

	e := &Entry{Peer: peer, Recipients: recipients}
	e.peerElem = peer.Entries.PushBack(e)
	e.queueElem = peer.Queue.Todo.PushBack(e)

	peer.Refcount++
	peer.Job.Message.Refcount++
	peer.Queue.TodoRefcount++

	n := len(recipients)
	peer.Job.RcptCount += n
	peer.Job.Message.RcptCount += n
	s.recipientCount += n

	return e
}

// Select pops the head of peer's entry list, moves it from todo to busy
// on its destination queue, and returns it for dispatch. Returns nil if
// the peer currently has no todo entries.
func (s *Scheduler) Select(peer *Peer) *Entry {
	front := peer.Entries.Front()
	if front == nil {
		return nil
	}
	e := front.Value()

	peer.Entries.Remove(e.peerElem)
	e.peerElem = nil

	list.MoveToList(e.queueElem, peer.Queue.Busy)
	peer.Queue.TodoRefcount--
	peer.Queue.BusyRefcount++
	e.busy = true

	peer.Job.SelectedEntries++

	return e
}

// Unselect is the inverse of Select: used when a dispatch fails before
// the worker takes ownership of the entry. Restores the entry to the
// front of its peer's entry list, undoing Select's pop, so that
// Unselect(Select(p)) == p restores list order bit-identically.
func (s *Scheduler) Unselect(e *Entry) {
	if !e.busy {
		panicInvariant("unselect", "entry is not currently selected")
	}

	list.MoveToList(e.queueElem, e.Peer.Queue.Todo)
	e.Peer.Queue.BusyRefcount--
	e.Peer.Queue.TodoRefcount++
	e.busy = false

	e.peerElem = e.Peer.Entries.PushFront(e)
	e.Peer.Job.SelectedEntries--
}

// Done retires entry from which list the caller asserts it is on,
// running the full completion accounting: recipient-count decrements,
// slot-borrowing refund, blocker rescan, and peer/queue/message
// recycling. Panics if which does not match the entry's actual location,
// or if the entry's delivery stream is still open - both are
// programming-contract violations, never reachable under correct
// operation.
func (s *Scheduler) Done(e *Entry, which EntryList) {
	if e.streamOpen {
		panicInvariant("done", "entry freed while its delivery stream is still open")
	}
	if (which == EntryBusy) != e.busy {
		panicInvariant("done", "which ("+which.String()+") does not match the entry's actual list")
	}

	peer := e.Peer
	queue := peer.Queue
	job := peer.Job
	msg := job.Message

	if which == EntryTodo {
		queue.Todo.Remove(e.queueElem)
		queue.TodoRefcount--
		peer.Entries.Remove(e.peerElem)
		// Preserved verbatim from the source scheduler: this branch
		// increments selected_entries even though the entry was never
		// selected. Whether this is deliberate accounting or a
		// pre-existing bug is unclear; behavior is kept rather than
		// "fixed", and no test pins it.
		job.SelectedEntries++
	} else {
		queue.Busy.Remove(e.queueElem)
		queue.BusyRefcount--
	}
	e.queueElem = nil
	e.peerElem = nil

	n := len(e.Recipients)
	job.RcptCount -= n
	msg.RcptCount -= n
	s.recipientCount -= n

	s.refundSlots(job, msg)

	s.rescanBlocker(queue)

	peer.Refcount--
	if peer.Refcount == 0 {
		s.destroyPeer(peer)
	}

	if queue.Empty() {
		if queue.Window == 0 {
			if s.inCoreQueueCount > 2*s.cfg.MessageRecipientLimit {
				// Open question resolved: destroy wins over a pending
				// unthrottle; the retry timer is cancelled.
				s.destroyQueue(queue)
			}
		} else {
			s.destroyQueue(queue)
		}
	}

	msg.Refcount--
	if msg.Refcount == 0 {
		s.finalizeMessage(msg)
	}
}

// refundSlots implements the §4.4 step 3 refund: every sponsor job on
// the message's job list (other than job itself) that is under its
// limit and either retired or belongs to a fully-read message gets a
// chance to re-borrow; then, if the message itself has been fully read,
// job gets the same chance.
func (s *Scheduler) refundSlots(job *Job, msg *Message) {
	for elem := msg.Jobs.Front(); elem != nil; elem = elem.Next() {
		sponsor := elem.Value()
		if sponsor == job {
			continue
		}
		if sponsor.RcptCount < sponsor.RcptLimit && (sponsor.Retired() || msg.FullyRead()) {
			s.moveLimits(sponsor)
		}
	}
	if msg.FullyRead() {
		s.moveLimits(job)
	}
}

// rescanBlocker implements §4.2 step 4: if queue carries the transport's
// live blocker tag and the condition that earned it the mark no longer
// holds, bump the transport's tag (forcing a fresh scan of everything)
// and reset its round-robin cursor to the job-list head.
func (s *Scheduler) rescanBlocker(queue *Queue) {
	if queue.BlockerTag == 0 || queue.BlockerTag != queue.Transport.blockerTag {
		return
	}
	freedUp := (queue.CanAccept() && queue.Todo.Len() > 0) || queue.Window == 0
	if !freedUp {
		return
	}
	t := queue.Transport
	t.blockerTag += 2
	t.jobCurrent = t.jobs.Front()
	queue.BlockerTag = 0
}
