// Package dispatchtest provides a fake dispatch.Dispatcher for scheduler
// tests: dispatches are recorded rather than shipped anywhere, and the
// test drives completions explicitly by calling Complete.
package dispatchtest

import (
	"context"
	"sync"

	"github.com/ondeck/qmgr/qmgr/dispatch"
)

type handle struct {
	queueID string
}

func (h *handle) QueueID() string { return h.queueID }

// Dispatched records one call to Dispatch, along with the completion
// callback the scheduler registered.
type Dispatched struct {
	Job dispatch.Job
	on  dispatch.CompletionFunc
}

// Fake is a Dispatcher that never reaches a real worker: every Dispatch
// call is recorded, and the test completes it later via Complete.
type Fake struct {
	mu         sync.Mutex
	dispatched []*Dispatched
	failNext   bool
}

// FailNextDispatch makes the next call to Dispatch return an error
// synchronously, simulating "no workers available".
func (f *Fake) FailNextDispatch() { f.failNext = true }

func (f *Fake) Dispatch(_ context.Context, job dispatch.Job, on dispatch.CompletionFunc) (dispatch.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errDispatchRefused
	}
	d := &Dispatched{Job: job, on: on}
	f.dispatched = append(f.dispatched, d)
	return &handle{queueID: job.QueueID}, nil
}

// Pending returns every dispatch not yet completed.
func (f *Fake) Pending() []*Dispatched {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Dispatched, len(f.dispatched))
	copy(out, f.dispatched)
	return out
}

// Complete invokes the completion callback recorded for the dispatch at
// index i (in dispatch order) with report, and removes it from Pending.
func (f *Fake) Complete(i int, report dispatch.Report) {
	f.mu.Lock()
	d := f.dispatched[i]
	f.dispatched = append(f.dispatched[:i], f.dispatched[i+1:]...)
	f.mu.Unlock()
	d.on(report)
}

var errDispatchRefused = dispatchRefusedError{}

type dispatchRefusedError struct{}

func (dispatchRefusedError) Error() string { return "dispatchtest: dispatch refused" }
