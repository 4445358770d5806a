package qmgr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ondeck/qmgr/qmgr"
	"github.com/ondeck/qmgr/qmgr/config"
	"github.com/ondeck/qmgr/qmgr/dispatch/dispatchtest"
)

type recordedCall struct {
	kind    string
	queueID string
	rcpt    qmgr.Recipient
	reason  string
	outcome string
}

type fakeCollaborator struct {
	calls []recordedCall
}

func (f *fakeCollaborator) LogBounce(queueID string, rcpt qmgr.Recipient, reason string) {
	f.calls = append(f.calls, recordedCall{kind: "bounce", queueID: queueID, rcpt: rcpt, reason: reason})
}

func (f *fakeCollaborator) LogDefer(queueID string, rcpt qmgr.Recipient, reason string) {
	f.calls = append(f.calls, recordedCall{kind: "defer", queueID: queueID, rcpt: rcpt, reason: reason})
}

func (f *fakeCollaborator) Finalize(queueID string, outcome string) {
	f.calls = append(f.calls, recordedCall{kind: "finalize", queueID: queueID, outcome: outcome})
}

func newTestScheduler(t *testing.T, cfg config.Config) (*qmgr.Scheduler, *fakeCollaborator) {
	t.Helper()
	collab := &fakeCollaborator{}
	sched := qmgr.New(cfg, nil, &dispatchtest.Fake{}, collab, nil)
	return sched, collab
}

// assertP2 checks P2: a queue's busy refcount never exceeds its window,
// unless the window is zero (the queue is dead).
func assertP2 (t *testing.T, q *qmgr.Queue) {
	t.Helper()
	require.True(t, q.BusyRefcount <= q.Window || q.Window == 0)
}

func TestS1_SingleMessageSingleRecipient(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())

	msg, err := sched.AdmitMessage("Q1", "sender@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	transport.DefaultWindow = 1
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 1

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)

	entry := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dest.example.com"}})
	require.NotNil(t, entry)

	selected := sched.Select(peer)
	require.NotNil(t, selected)
	require.Equal(t, 1, queue.BusyRefcount)
	require.Equal(t, 0, queue.TodoRefcount)
	assertP2(t, queue)

	sched.Done(selected, qmgr.EntryBusy)

	require.Equal(t, 0, msg.Refcount)
	require.Equal(t, 0, sched.RecipientCount())
}

func TestS2_SlotBorrowingAcrossMessages(t *testing.T) {
	cfg := config.Default()
	cfg.MessageRecipientLimit = 10
	sched, _ := newTestScheduler(t, cfg)

	transport := sched.Transport("smtp")
	transport.DefaultWindow = 1
	transport.DefaultRecipientLimit = 10
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 1

	msgA, err := sched.AdmitMessage("A", "a@example.com")
	require.NoError(t, err)
	msgA.RcptOffset = 0 // fully read: a single recipient

	jobA := sched.Job(msgA, transport)
	jobA.RcptLimit = 1
	peerA := sched.Peer(jobA, queue)
	sched.CreateEntry(peerA, []qmgr.Recipient{{Address: "ra@dest.example.com"}})

	msgB, err := sched.AdmitMessage("B", "b@example.com")
	require.NoError(t, err)
	msgB.RcptOffset = 1 // more to read still

	jobB := sched.Job(msgB, transport)
	jobB.RcptLimit = 9 // headroom (10) - A's 1 already in flight
	peerB := sched.Peer(jobB, queue)

	rcptsB := make([]qmgr.Recipient, 9)
	for i := range rcptsB {
		rcptsB[i] = qmgr.Recipient{Address: "rb@dest.example.com"}
	}
	sched.CreateEntry(peerB, rcptsB)
	require.LessOrEqual(t, jobB.RcptLimit, 9)

	selectedA := sched.Select(peerA)
	sched.Done(selectedA, qmgr.EntryBusy)

	require.Equal(t, 0, msgA.Refcount)
	require.GreaterOrEqual(t, jobB.RcptLimit, 9)
}

func TestS3_ThrottleKeepsBusyEntriesCompleting(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())

	msg, err := sched.AdmitMessage("Q3", "sender@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dead.example.com")
	queue.Window = 1

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)
	entry := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dead.example.com"}})
	selected := sched.Select(peer)

	sched.ThrottleQueue(queue)
	require.Equal(t, 0, queue.Window)
	require.False(t, queue.Alive())

	// busy entry still completes normally even though the queue is dead
	sched.Done(selected, qmgr.EntryBusy)
	require.Equal(t, 0, msg.Refcount)
	_ = entry
}

func TestS4_BlockerTagSkipsBlockedJobUntilRescan(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())

	transport := sched.Transport("smtp")
	transport.DefaultWindow = 1

	blockedQueue := sched.Queue(transport, "blocked.example.com")
	blockedQueue.Window = 1

	msg1, err := sched.AdmitMessage("M1", "s@example.com")
	require.NoError(t, err)
	job1 := sched.Job(msg1, transport)
	peer1 := sched.Peer(job1, blockedQueue)
	sched.CreateEntry(peer1, []qmgr.Recipient{{Address: "r1@blocked.example.com"}})
	selected1 := sched.Select(peer1) // fills blockedQueue's window

	msg2, err := sched.AdmitMessage("M2", "s@example.com")
	require.NoError(t, err)
	job2 := sched.Job(msg2, transport)
	peer2 := sched.Peer(job2, blockedQueue)
	sched.CreateEntry(peer2, []qmgr.Recipient{{Address: "r2@blocked.example.com"}})

	initialTag := transport.BlockerTag()

	// A full scan (job1 has nothing left to offer, job2 is blocked by the
	// full queue) finds nothing selectable, and stamps blockedQueue with
	// the live tag.
	sched.Cycle(context.Background())
	require.Equal(t, initialTag, blockedQueue.BlockerTag)
	require.Equal(t, 1, queuePeerEntryCount(peer2))

	// Completing the busy entry frees the window with todo non-empty,
	// bumping the transport's tag and clearing the queue's stamp.
	sched.Done(selected1, qmgr.EntryBusy)
	require.NotEqual(t, initialTag, transport.BlockerTag())
	require.Equal(t, 0, blockedQueue.BlockerTag)

	// At the next tag, job2 is revisited and its entry selected.
	sched.Cycle(context.Background())
	require.Equal(t, 1, blockedQueue.BusyRefcount)
}

func queuePeerEntryCount(p *qmgr.Peer) int { return p.Entries.Len() }

// TestS4b_BlockerTagRescansOnQueueThrottled covers the other rescan
// trigger from §4.2 step 4: a queue carrying the transport's live
// blocker tag that drops to window == 0 (throttled) must also have its
// stamp cleared and the transport's tag bumped, independent of whether
// its todo list is non-empty.
func TestS4b_BlockerTagRescansOnQueueThrottled(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())

	transport := sched.Transport("smtp")
	transport.DefaultWindow = 1

	queue := sched.Queue(transport, "blocked.example.com")
	queue.Window = 1

	msg, err := sched.AdmitMessage("M1", "s@example.com")
	require.NoError(t, err)
	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)
	sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r1@blocked.example.com"}})
	selected := sched.Select(peer) // fills queue's window

	initialTag := transport.BlockerTag()
	queue.BlockerTag = initialTag // simulate an earlier scan stamping this queue

	sched.ThrottleQueue(queue)
	require.Equal(t, 0, queue.Window)

	// Completing the busy entry while the queue is throttled (not
	// freed-up in the usual sense) must still clear the stale stamp.
	sched.Done(selected, qmgr.EntryBusy)
	require.NotEqual(t, initialTag, transport.BlockerTag())
	require.Equal(t, 0, queue.BlockerTag)
}

func TestBoundary_CreateOnDeadQueuePanics(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())
	msg, err := sched.AdmitMessage("Q", "s@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dead.example.com")
	queue.Window = 0

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)

	require.Panics(t, func() {
		sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dead.example.com"}})
	})
}

func TestS6_DoneWrongListPanics(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())
	msg, err := sched.AdmitMessage("Q6", "s@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 1

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)
	entry := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dest.example.com"}})
	sched.Select(entry.Peer) // it is now busy

	require.Panics(t, func() {
		sched.Done(entry, qmgr.EntryTodo)
	})
}

func TestLaw_UnselectRestoresOrder(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())
	msg, err := sched.AdmitMessage("Q", "s@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 2

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)

	e1 := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r1@dest.example.com"}})
	e2 := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r2@dest.example.com"}})

	require.Equal(t, e1, peer.Entries.Front().Value())

	selected := sched.Select(peer)
	require.Equal(t, e1, selected)
	require.Equal(t, e2, peer.Entries.Front().Value())

	sched.Unselect(selected)
	require.Equal(t, e1, peer.Entries.Front().Value())
	require.Equal(t, e2, peer.Entries.Back().Value())
}

func TestLaw_CreateDoneRoundTrip(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())
	msg, err := sched.AdmitMessage("Q", "s@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 5

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)

	preRecipientCount := sched.RecipientCount()

	var entries []*qmgr.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dest.example.com"}}))
	}

	for _, e := range entries {
		sel := sched.Select(e.Peer)
		sched.Done(sel, qmgr.EntryBusy)
	}

	require.Equal(t, preRecipientCount, sched.RecipientCount())
	require.Equal(t, 0, msg.Refcount)
}

func TestBoundary_ZeroRecipientLimitRejectsSelection(t *testing.T) {
	cfg := config.Default()
	cfg.MessageRecipientLimit = 0
	sched, _ := newTestScheduler(t, cfg)

	msg, err := sched.AdmitMessage("Q", "s@example.com")
	require.NoError(t, err)
	require.Equal(t, 0, msg.RcptLimit)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 1
	job := sched.Job(msg, transport)
	job.RcptLimit = 0
	peer := sched.Peer(job, queue)

	entry := sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dest.example.com"}})
	require.Nil(t, entry)

	sched.Cycle(context.Background())
	require.Equal(t, 0, queue.BusyRefcount)
	require.Equal(t, 0, job.RcptLimit)
}

func TestCycleDispatchesOneEntryPerCall(t *testing.T) {
	sched, _ := newTestScheduler(t, config.Default())
	msg, err := sched.AdmitMessage("Q", "s@example.com")
	require.NoError(t, err)

	transport := sched.Transport("smtp")
	queue := sched.Queue(transport, "dest.example.com")
	queue.Window = 1

	job := sched.Job(msg, transport)
	peer := sched.Peer(job, queue)
	sched.CreateEntry(peer, []qmgr.Recipient{{Address: "r@dest.example.com"}})

	sched.Cycle(context.Background())
	require.Equal(t, 1, queue.BusyRefcount)
}
