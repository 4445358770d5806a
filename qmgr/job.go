package qmgr

import "github.com/ondeck/qmgr/internal/list"

// Job is the (message, transport) junction: it carries the recipient
// budget donated from its message and borrowed from sibling jobs on the
// same transport (see moveLimits), and holds the round-robin list of
// peers (destinations) this message is currently routing toward over
// this transport.
type Job struct {
	Message   *Message
	Transport *Transport

	RcptCount       int
	RcptLimit       int
	SelectedEntries int

	// StackLevel is >= 0 while the job is active, < 0 once retired (its
	// message has been fully read, so no further entries will be
	// created against it).
	StackLevel int

	Peers       *list.List[*Peer]
	peerCurrent *list.Elem[*Peer]

	msgElem       *list.Elem[*Job]
	transportElem *list.Elem[*Job]
}

func newJob(m *Message, t *Transport) *Job {
	j := &Job{
		Message:   m,
		Transport: t,
		// A job's nominal starting budget is its transport's per-entry
		// recipient cap; moveLimits grows this as headroom and sibling
		// refunds allow.
		RcptLimit: t.DefaultRecipientLimit,
		Peers:     list.New[*Peer](),
	}
	j.msgElem = m.Jobs.PushBack(j)
	j.transportElem = t.jobs.PushBack(j)
	if t.jobCurrent == nil {
		t.jobCurrent = j.transportElem
	}
	return j
}

// Retired reports whether this job will create no further entries.
func (j *Job) Retired() bool { return j.StackLevel < 0 }
