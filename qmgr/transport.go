package qmgr

import "github.com/ondeck/qmgr/internal/list"

// Transport is a round-robin list of jobs sharing one delivery mechanism
// (e.g. one SMTP relay pool), plus the blocker-tag epoch counter used to
// short-circuit rescans of destinations that cannot currently accept
// more deliveries.
type Transport struct {
	Name                  string
	DefaultWindow         int
	DefaultRecipientLimit int

	// ProcessLimit bounds concurrently dispatched entries across the
	// whole transport (default_process_limit), independent of any
	// single destination queue's own window.
	ProcessLimit int
	busyCount    int

	// blockerTag is the transport's current scan epoch. Always odd, so
	// that a queue's zero-value BlockerTag ("never stamped") is never
	// mistaken for a live mark.
	blockerTag int

	jobs       *list.List[*Job]
	jobCurrent *list.Elem[*Job]

	queues map[string]*Queue
}

func newTransport(name string, defaultWindow, defaultRecipientLimit, processLimit int) *Transport {
	return &Transport{
		Name:                  name,
		DefaultWindow:         defaultWindow,
		DefaultRecipientLimit: defaultRecipientLimit,
		ProcessLimit:          processLimit,
		blockerTag:            1,
		jobs:                  list.New[*Job](),
		queues:                make(map[string]*Queue),
	}
}

// CanDispatch reports whether the transport has spare capacity under its
// process-wide concurrency cap.
func (t *Transport) CanDispatch() bool { return t.busyCount < t.ProcessLimit }

// BlockerTag returns the transport's current scan epoch, for tests that
// assert on the blocker-fairness law.
func (t *Transport) BlockerTag() int { return t.blockerTag }
