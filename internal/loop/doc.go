// Package loop implements the single-threaded, event-driven reactor that
// hosts the scheduler core (package qmgr).
//
// # Architecture
//
// [Loop] is a minimal reactor: a submitted-task queue, a timer heap, and
// an I/O readiness poller (epoll on Linux, kqueue on Darwin), all driven
// from one goroutine by [Loop.Run]. Every qmgr mutation happens on that
// goroutine; other goroutines (the dispatcher reading worker connections,
// the ingester reading queue files) only ever call [Loop.Submit] to hand
// work back to it.
//
// # Suspension
//
// The loop suspends only inside its poll step, waiting for either a
// submitted task, an expired timer, or I/O readiness on a registered file
// descriptor - matching the "suspends only inside the event loop's
// wait-for-readiness call" execution model the scheduler requires.
//
// # Thread safety
//
//   - [Loop.Submit] is safe to call from any goroutine.
//   - [Loop.ScheduleTimer], [Loop.RegisterFD], [Loop.UnregisterFD], and
//     [Loop.ModifyFD] must only be called from the loop goroutine (i.e.
//     from within a task already running on the loop, or before Run).
package loop
