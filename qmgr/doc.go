// Package qmgr implements the per-site delivery scheduler at the heart of
// a store-and-forward mail queue manager: messages, destination queues,
// peers, jobs, entries, entry selection and completion accounting,
// destination throttling, and the recipient-slot borrowing protocol that
// lets one message temporarily exceed its nominal recipient budget by
// borrowing slots from other co-resident messages.
//
// # Execution model
//
// Every exported method on Scheduler (and the types it owns) is
// run-to-completion: it must be called from the internal/loop goroutine,
// and must not block. Parallelism comes from external delivery workers,
// reached only through the qmgr/dispatch contract; the scheduler reacts
// to their completions via Scheduler.Complete.
//
// # Failure semantics
//
// Three distinct error shapes exist, deliberately not conflated:
//
//   - Recoverable transport-level failures (defer, destination
//     throttling) are ordinary control flow, surfaced through dispatch
//     reports and the backoff classifier.
//   - Per-message data errors mark the offending message corrupt and
//     finalize it, without disturbing any other message.
//   - Programming-contract violations (entry on the wrong list, creating
//     an entry on a dead queue, freeing an entry with an open stream)
//     panic with an InvariantViolation. These are never reachable under
//     correct operation and exist to turn silent corruption into loud
//     crashes; cmd/qmgrd recovers them only to log and exit(2).
package qmgr
