package qmgr

import "github.com/ondeck/qmgr/internal/list"

// Message is the in-memory reflection of one queue file: its refcount,
// read offset for further recipients, the jobs it has spawned (one per
// transport it touches), and aggregate recipient accounting.
type Message struct {
	QueueID string
	Sender  string

	Refcount int

	// RcptOffset is the next unread envelope record, or 0 if the file
	// has been fully read. Consulted by the slot-borrowing protocol and
	// by finalization.
	RcptOffset int64

	RcptCount int
	RcptLimit int

	Jobs *list.List[*Job]

	// Corrupt marks a message whose envelope could not be parsed; it is
	// finalized to the corrupt-queue rather than delivered or bounced.
	Corrupt bool
}

func newMessage(queueID, sender string, rcptLimit int) *Message {
	return &Message{
		QueueID:   queueID,
		Sender:    sender,
		RcptLimit: rcptLimit,
		Jobs:      list.New[*Job](),
	}
}

// FullyRead reports whether every recipient record has been consumed
// from the queue file.
func (m *Message) FullyRead() bool { return m.RcptOffset == 0 }
