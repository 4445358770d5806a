package qmgr

import (
	"context"
	"time"

	"github.com/ondeck/qmgr/internal/backoff"
	"github.com/ondeck/qmgr/internal/loop"
	"github.com/ondeck/qmgr/qlog"
	"github.com/ondeck/qmgr/qmgr/config"
	"github.com/ondeck/qmgr/qmgr/dispatch"
)

// BounceCollaborator is the scheduler's bounce/defer/finalize
// collaborator (§6): an opaque handle to persistence and logging that
// the scheduler calls but never inspects the internals of.
type BounceCollaborator interface {
	LogBounce(queueID string, rcpt Recipient, reason string)
	LogDefer(queueID string, rcpt Recipient, reason string)
	Finalize(queueID string, outcome string)
}

// Scheduler is the top-level loop described in §2(h): it owns every
// transport, destination queue, message, job, peer and entry, and runs
// the selection/dispatch/completion cycle. All of its methods must be
// called from the internal/loop.Loop goroutine it was built with.
type Scheduler struct {
	cfg config.Config

	lp         *loop.Loop
	logger     *qlog.Logger
	dispatcher dispatch.Dispatcher
	bounce     BounceCollaborator
	classifier *backoff.Classifier
	schedule   backoff.Schedule

	transports map[string]*Transport
	messages   map[string]*Message

	// recipientCount is qmgr_recipient_count: a single counter mutated
	// only by CreateEntry/Done/moveLimits.
	recipientCount int

	// inCoreQueueCount is the total number of allocated destination
	// queues (alive or dead), mutated only by queue create/destroy.
	inCoreQueueCount int
}

// New builds a Scheduler. lp is the reactor it will be driven from;
// dispatcher ships jobs to delivery workers; bounce is the bounce/defer
// collaborator; logger is kept on the Scheduler, though no Scheduler
// method logs through it.
func New(cfg config.Config, lp *loop.Loop, dispatcher dispatch.Dispatcher, bounce BounceCollaborator, logger *qlog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		lp:         lp,
		logger:     logger,
		dispatcher: dispatcher,
		bounce:     bounce,
		classifier: backoff.NewClassifier(cfg.SustainedFailureWindow.Dur(), cfg.SustainedFailureThreshold),
		schedule:   backoff.NewSchedule(cfg.MinimalBackoffTime.Dur(), cfg.MaximalBackoffTime.Dur()),
		transports: make(map[string]*Transport),
		messages:   make(map[string]*Message),
	}
}

// RecipientCount returns qmgr_recipient_count, for invariant tests.
func (s *Scheduler) RecipientCount() int { return s.recipientCount }

// InCoreQueueCount returns the total number of allocated destination
// queues, for invariant tests.
func (s *Scheduler) InCoreQueueCount() int { return s.inCoreQueueCount }

// Transport returns the named transport, creating it (with the
// scheduler's configured defaults) on first use.
func (s *Scheduler) Transport(name string) *Transport {
	if t, ok := s.transports[name]; ok {
		return t
	}
	t := newTransport(name, s.cfg.DefaultDestinationConcurrencyLimit, s.cfg.DefaultDestinationRecipientLimit, s.cfg.DefaultProcessLimit)
	s.transports[name] = t
	return t
}

// Queue returns the named destination queue on t, creating it on first
// use - this is "a destination queue is created on first peer for its
// name" (§3 lifecycle).
func (s *Scheduler) Queue(t *Transport, nexthop string) *Queue {
	if q, ok := t.queues[nexthop]; ok {
		return q
	}
	q := newQueue(t, nexthop)
	t.queues[nexthop] = q
	s.inCoreQueueCount++
	return q
}

// AdmitMessage creates a Message for a newly admitted queue file. Returns
// ErrMessageLimitReached if doing so would exceed the configured active
// message limit.
func (s *Scheduler) AdmitMessage(queueID, sender string) (*Message, error) {
	if len(s.messages) >= s.cfg.MessageActiveLimit {
		return nil, ErrMessageLimitReached
	}
	m := newMessage(queueID, sender, s.cfg.MessageRecipientLimit)
	s.messages[queueID] = m
	return m, nil
}

// Job returns message's job for transport, creating it on first need.
func (s *Scheduler) Job(m *Message, t *Transport) *Job {
	for elem := m.Jobs.Front(); elem != nil; elem = elem.Next() {
		if elem.Value().Transport == t {
			return elem.Value()
		}
	}
	return newJob(m, t)
}

// Peer returns job's peer toward queue, creating it on first need.
func (s *Scheduler) Peer(j *Job, q *Queue) *Peer {
	for elem := j.Peers.Front(); elem != nil; elem = elem.Next() {
		if elem.Value().Queue == q {
			return elem.Value()
		}
	}
	return newPeer(j, q)
}

func (s *Scheduler) destroyPeer(p *Peer) {
	p.Job.Peers.Remove(p.jobElem)
	s.maybeDestroyJob(p.Job)
}

func (s *Scheduler) maybeDestroyJob(j *Job) {
	if j.Peers.Len() != 0 || j.RcptCount != 0 {
		return
	}
	j.Message.Jobs.Remove(j.msgElem)
	if j.Transport.jobCurrent == j.transportElem {
		j.Transport.jobCurrent = j.transportElem.Next()
	}
	j.Transport.jobs.Remove(j.transportElem)
}

func (s *Scheduler) destroyQueue(q *Queue) {
	if q.retryTimer != nil {
		q.retryTimer.Cancel()
		q.retryTimer = nil
	}
	delete(q.Transport.queues, q.Nexthop)
	s.inCoreQueueCount--
}

func (s *Scheduler) finalizeMessage(m *Message) {
	delete(s.messages, m.QueueID)
	outcome := "delivered"
	if m.Corrupt {
		outcome = "corrupt"
	}
	if s.bounce != nil {
		s.bounce.Finalize(m.QueueID, outcome)
	}
}

// ThrottleQueue marks a destination queue dead following a sustained
// failure report (§4.1): window drops to zero and a retry deadline is
// scheduled. Entries already busy on the queue complete normally.
func (s *Scheduler) ThrottleQueue(q *Queue) {
	if q.Window == 0 {
		return
	}
	q.priorWindow = q.Window
	q.Window = 0
	q.consecutiveThrottles++

	delay := s.schedule.Delay(q.consecutiveThrottles)
	if s.lp != nil {
		q.retryTimer = s.lp.ScheduleTimer(delay, func() { s.onRetryTimer(q) })
	}
}

// UnthrottleQueue restores a throttled queue's window, either because
// its retry deadline elapsed or because a delivery succeeded on another
// entry that shared the destination before it was throttled.
func (s *Scheduler) UnthrottleQueue(q *Queue) {
	if q.Window != 0 {
		return
	}
	q.Window = q.priorWindow
	if q.Window == 0 {
		q.Window = q.Transport.DefaultWindow
	}
	q.consecutiveThrottles = 0
	if q.retryTimer != nil {
		q.retryTimer.Cancel()
		q.retryTimer = nil
	}
	s.rescanBlocker(q)
}

func (s *Scheduler) onRetryTimer(q *Queue) {
	q.retryTimer = nil
	if q.Empty() {
		// destroy wins over unthrottle: by the time the timer fires the
		// queue may already have been evicted for being both dead and
		// empty past the in-core threshold; nothing to do.
		if _, ok := q.Transport.queues[q.Nexthop]; !ok {
			return
		}
	}
	s.UnthrottleQueue(q)
}

func (s *Scheduler) markBlocker(q *Queue) {
	q.BlockerTag = q.Transport.blockerTag
}

// RecordFailure classifies a defer/connection-refused report against
// nexthop, throttling its queue if the failure rate crosses the
// sustained-failure threshold (§4.7). Returns true if the queue was
// throttled as a result.
func (s *Scheduler) RecordFailure(q *Queue) bool {
	if !s.classifier.RecordFailure(q.Nexthop) {
		return false
	}
	s.ThrottleQueue(q)
	return true
}

// Dispatch ships entry to the configured Dispatcher and arranges for its
// completion to be processed back on the loop goroutine. Dispatch
// failures (no workers available) are treated as an immediate defer for
// every recipient in the entry.
func (s *Scheduler) Dispatch(ctx context.Context, queueID, sender string, q *Queue, e *Entry) {
	job := dispatch.Job{
		QueueID:    queueID,
		Sender:     sender,
		Nexthop:    q.Nexthop,
		Recipients: make([]dispatch.JobRecipient, len(e.Recipients)),
	}
	for i, r := range e.Recipients {
		job.Recipients[i] = dispatch.JobRecipient{Address: r.Address, Offset: r.Offset}
	}

	e.OpenStream()
	q.Transport.busyCount++
	_, err := s.dispatcher.Dispatch(ctx, job, func(report dispatch.Report) {
		if s.lp != nil {
			_ = s.lp.Submit(func() { s.Complete(queueID, e, q, report) })
			return
		}
		s.Complete(queueID, e, q, report)
	})
	if err != nil {
		e.CloseStream()
		q.Transport.busyCount--
		for _, r := range e.Recipients {
			s.bounce.LogDefer(queueID, r, err.Error())
		}
		s.Done(e, EntryBusy)
	}
}

// Complete processes a worker's report for a previously dispatched
// entry: per-recipient bounce/defer logging, destination-wide verdict
// handling, and the done() accounting pass.
func (s *Scheduler) Complete(queueID string, e *Entry, q *Queue, report dispatch.Report) {
	e.CloseStream()
	q.Transport.busyCount--

	for i, res := range report.Results {
		if i >= len(e.Recipients) {
			break
		}
		rcpt := e.Recipients[i]
		switch res.Status {
		case dispatch.StatusDefer:
			s.bounce.LogDefer(queueID, rcpt, res.Reason)
			s.RecordFailure(q)
		case dispatch.StatusBounce:
			s.bounce.LogBounce(queueID, rcpt, res.Reason)
		}
	}

	switch report.Verdict {
	case dispatch.VerdictDead:
		s.ThrottleQueue(q)
	case dispatch.VerdictAlive:
		s.UnthrottleQueue(q)
	}

	s.Done(e, EntryBusy)
}

// Cycle performs one selection pass: it visits transports, and for each,
// its jobs in round-robin order starting at the transport's cursor, and
// for each job its peers in round-robin order, dispatching the first
// selectable entry it finds. At most one entry is dispatched per Cycle
// call - internal/loop invokes Cycle once per tick, so throughput comes
// from tick frequency, not from unbounded work within a single tick.
func (s *Scheduler) Cycle(ctx context.Context) {
	for _, t := range s.transports {
		if s.cycleTransport(ctx, t) {
			return
		}
	}
}

func (s *Scheduler) cycleTransport(ctx context.Context, t *Transport) bool {
	if t.jobs.Len() == 0 || !t.CanDispatch() {
		return false
	}
	start := t.jobCurrent
	if start == nil {
		start = t.jobs.Front()
	}
	cur := start
	for i := 0; i < t.jobs.Len(); i++ {
		job := cur.Value()
		next := cur.Next()
		if next == nil {
			next = t.jobs.Front()
		}

		if e, peer := s.trySelectFromJob(job); e != nil {
			t.jobCurrent = next
			msg := job.Message
			s.Dispatch(ctx, msg.QueueID, msg.Sender, peer.Queue, e)
			return true
		}

		cur = next
	}
	t.jobCurrent = cur
	return false
}

func (s *Scheduler) trySelectFromJob(job *Job) (*Entry, *Peer) {
	if job.RcptCount >= job.RcptLimit || job.Peers.Len() == 0 {
		return nil, nil
	}

	start := job.peerCurrent
	if start == nil {
		start = job.Peers.Front()
	}
	cur := start
	var blocked []*Queue

	for i := 0; i < job.Peers.Len(); i++ {
		peer := cur.Value()
		q := peer.Queue
		next := cur.Next()
		if next == nil {
			next = job.Peers.Front()
		}

		skip := q.BlockerTag != 0 && q.BlockerTag == q.Transport.blockerTag
		if !skip && q.CanAccept() && peer.Entries.Len() > 0 {
			e := s.Select(peer)
			job.peerCurrent = next
			return e, peer
		}
		if skip || !q.CanAccept() {
			blocked = append(blocked, q)
		}

		cur = next
	}
	job.peerCurrent = cur

	for _, q := range blocked {
		s.markBlocker(q)
	}
	return nil, nil
}

// ReadyForRetry is a convenience for tests driving the retry timer
// without a live internal/loop.Loop.
func (s *Scheduler) ReadyForRetry(q *Queue, elapsed time.Duration) bool {
	return elapsed >= s.schedule.Delay(q.consecutiveThrottles)
}
