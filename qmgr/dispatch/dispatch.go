// Package dispatch defines the narrow contract between the scheduler and
// the delivery-agent IPC transport. The wire format itself is out of
// scope; this package only fixes the shape of a "ship this job, tell me
// what happened" call.
package dispatch

import "context"

// Status is a worker's verdict for one recipient within a dispatched job.
type Status int

const (
	StatusOK Status = iota
	StatusDefer
	StatusBounce
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDefer:
		return "DEFER"
	case StatusBounce:
		return "BOUNCE"
	default:
		return "UNKNOWN"
	}
}

// Verdict is a worker's optional destination-wide assessment, layered on
// top of the per-recipient Status vector.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictAlive
	VerdictDead
)

// RecipientResult is one recipient's outcome within a Report.
type RecipientResult struct {
	Address string
	Status  Status
	Reason  string
}

// Report is what a worker returns for a dispatched Job: a per-recipient
// status vector plus an optional destination-wide verdict.
type Report struct {
	Results []RecipientResult
	Verdict Verdict
}

// Job is what the scheduler ships to a worker: one entry's recipients,
// nexthop, and the envelope metadata needed to deliver them.
type Job struct {
	QueueID       string
	Sender        string
	Nexthop       string
	TimeLimit     int64 // seconds; 0 means transport default
	Recipients    []JobRecipient
}

// JobRecipient is one recipient within a dispatched Job, paired with its
// envelope offset so the worker can report back against it.
type JobRecipient struct {
	Address string
	Offset  int64
}

// CompletionFunc is invoked exactly once when a dispatched Job finishes
// (worker reply, crash, or timeout-kill all funnel through here
// uniformly). It may be called from any goroutine; the scheduler's
// callback hands the report back to its loop goroutine via Loop.Submit.
type CompletionFunc func(Report)

// Handle is returned by Dispatch and lets the scheduler inspect, and the
// transport layer reconcile, an in-flight job.
type Handle interface {
	// QueueID identifies the dispatched job's originating message.
	QueueID() string
}

// Dispatcher ships a Job to a worker and arranges for on to be called
// exactly once with the result. Dispatch itself must not block; it may
// return an error only for synchronous submission failures (e.g. no
// workers available), which the scheduler treats as an immediate defer.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job, on CompletionFunc) (Handle, error)
}
