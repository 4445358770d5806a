// Package ingest implements the ingester → scheduler admit() interface
// (§6): it creates a qmgr.Message for a newly discovered queue file and
// streams its recipients into entries, respecting the non-blocking read
// discipline the single-threaded scheduler requires (§5).
package ingest

import (
	"github.com/ondeck/qmgr/qmgr"
)

// Route resolves one recipient address to the transport and destination
// nexthop it should be queued against - the scheduler has no opinion on
// routing; this is supplied by the caller (normally backed by the
// message transfer agent's routing tables, out of scope here).
type Route struct {
	Transport string
	Nexthop   string
}

// Router maps recipient addresses to delivery routes.
type Router interface {
	Route(address string) (Route, error)
}

// Source is a non-blocking recipient reader over one queue file: Read
// returns as many recipients as are immediately available (up to max),
// without blocking, and reports whether the file has been exhausted.
type Source interface {
	// Read returns up to max recipients starting at offset, the next
	// unread offset (0 if the file is now fully read), and an error for
	// unparseable envelope records (a per-message data error, not a
	// programming-contract violation).
	Read(offset int64, max int) (recipients []qmgr.Recipient, nextOffset int64, err error)
}

// Ingester wires a Router, and the Source passed to each Admit/ReadMore
// call, into Scheduler.AdmitMessage and CreateEntry calls.
type Ingester struct {
	sched  *qmgr.Scheduler
	router Router
}

// New builds an Ingester using sched for admission and router to resolve
// recipient destinations.
func New(sched *qmgr.Scheduler, router Router) *Ingester {
	return &Ingester{sched: sched, router: router}
}

// Admit creates a Message for queueID/sender and reads its first batch
// of recipients from src, creating jobs/peers/entries for every
// destination with a live queue. Recipients whose queue is currently
// dead are held back (not read again until ReadMore is called after
// headroom opens up via Scheduler.Done / moveLimits).
func (ig *Ingester) Admit(queueID, sender string, src Source) (*qmgr.Message, error) {
	msg, err := ig.sched.AdmitMessage(queueID, sender)
	if err != nil {
		return nil, err
	}
	if err := ig.readBatch(msg, src); err != nil {
		msg.Corrupt = true
		return msg, err
	}
	return msg, nil
}

// ReadMore resumes reading msg's queue file at its current RcptOffset,
// called after completions free up recipient budget (§4.5). No-op if
// the message has been fully read or has no remaining budget.
func (ig *Ingester) ReadMore(msg *qmgr.Message, src Source) error {
	if msg.FullyRead() {
		return nil
	}
	if err := ig.readBatch(msg, src); err != nil {
		msg.Corrupt = true
		return err
	}
	return nil
}

func (ig *Ingester) readBatch(msg *qmgr.Message, src Source) error {
	budget := msg.RcptLimit - msg.RcptCount
	if budget <= 0 {
		return nil
	}

	recipients, nextOffset, err := src.Read(msg.RcptOffset, budget)
	if err != nil {
		return err
	}
	msg.RcptOffset = nextOffset

	byDestination := make(map[Route][]qmgr.Recipient)
	order := make([]Route, 0, 4)
	for _, r := range recipients {
		route, err := ig.router.Route(r.Address)
		if err != nil {
			return err
		}
		if _, ok := byDestination[route]; !ok {
			order = append(order, route)
		}
		byDestination[route] = append(byDestination[route], r)
	}

	for _, route := range order {
		rcpts := byDestination[route]
		t := ig.sched.Transport(route.Transport)
		q := ig.sched.Queue(t, route.Nexthop)
		if !q.Alive() {
			// Held back: the next scheduler tick's ReadMore pass (after
			// the queue unthrottles) will re-route these from the
			// source's perspective once rcpt_offset rewinds - callers
			// that need this durability implement Source accordingly.
			continue
		}
		job := ig.sched.Job(msg, t)
		peer := ig.sched.Peer(job, q)
		ig.sched.CreateEntry(peer, rcpts)
	}

	return nil
}
