package qmgr

import (
	"errors"
	"fmt"
)

// InvariantViolation is panicked for programming-contract violations: an
// entry found on the wrong list, an entry created against a dead queue,
// or an entry freed while its delivery stream is still open. These are
// never reachable under correct operation (see package doc); callers at
// the top of the process (cmd/qmgrd) should recover, log, and exit(2)
// rather than attempt to continue running.
type InvariantViolation struct {
	// Op names the operation that detected the violation (e.g. "done",
	// "create").
	Op string
	// Reason describes the specific violated invariant.
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("qmgr: invariant violation in %s: %s", e.Op, e.Reason)
}

func panicInvariant(op, reason string) {
	panic(&InvariantViolation{Op: op, Reason: reason})
}

// Sentinel errors for recoverable, expected conditions - never panicked,
// always returned.
var (
	// ErrQueueDead names the condition of a destination queue whose window
	// is zero. No function in this package returns it: CreateEntry panics
	// on a dead queue, and the ingestion path checks Queue.Alive before
	// calling CreateEntry.
	ErrQueueDead = errors.New("qmgr: destination queue is dead")

	// ErrMessageLimitReached is returned by the ingester when admitting a
	// message would exceed qmgr_message_active_limit.
	ErrMessageLimitReached = errors.New("qmgr: active message limit reached")

	// ErrRecipientLimitZero names the configuration where
	// qmgr_recipient_limit is zero: no entries are selectable and no
	// creates succeed (CreateEntry returns nil). A deliberate full-stop
	// configuration, not an error state; no function in this package
	// returns it.
	ErrRecipientLimitZero = errors.New("qmgr: recipient limit is zero")
)
