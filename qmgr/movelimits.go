package qmgr

// moveLimits implements the recipient-slot borrowing protocol (§4.4):
// it first reclaims slots held, but unused, by peer jobs on the same
// transport that are retired or whose message has been fully read,
// then awards headroom from the global pool to job.
//
// "Peer jobs" here means other messages' jobs sharing job.Transport
// (job.Transport.jobs) - this is what lets one large message borrow
// budget from another message's job once that job stops needing it,
// the dynamic reassignment the package doc calls slot borrowing.
func (s *Scheduler) moveLimits(job *Job) {
	t := job.Transport

	for elem := t.jobs.Front(); elem != nil; elem = elem.Next() {
		sponsor := elem.Value()
		if sponsor == job {
			continue
		}
		if !(sponsor.Retired() || sponsor.Message.FullyRead()) {
			continue
		}
		if sponsor.RcptLimit > sponsor.RcptCount {
			sponsor.RcptLimit = sponsor.RcptCount
		}
	}

	headroom := s.cfg.MessageRecipientLimit - s.recipientCount
	if headroom < 0 {
		headroom = 0
	}

	// A single move_limits call awards at most one entry's worth of
	// headroom (the transport's per-entry recipient limit), so one
	// message's burst can't starve every sibling in
	// a single step; subsequent completions keep re-awarding as more
	// headroom frees up.
	award := headroom
	if cap := t.DefaultRecipientLimit; award > cap {
		award = cap
	}

	candidate := job.RcptCount + award
	if candidate > job.RcptLimit {
		job.RcptLimit = candidate
	}

	if job.Message.FullyRead() {
		job.StackLevel = -1
	}
}
