// Package bouncelog implements the scheduler's bounce/defer collaborator
// (§6): qmgr.LogBounce/LogDefer/Finalize calls, micro-batched via
// go-microbatch so a burst of recipient outcomes from one entry's
// completion costs one write instead of one per recipient.
package bouncelog

import (
	"context"
	"io"
	"time"

	microbatch "github.com/joeycumines/go-microbatch"

	"github.com/ondeck/qmgr/qlog"
	"github.com/ondeck/qmgr/qmgr"
)

// Record is one logged outcome, batched before being written.
type Record struct {
	Kind     Kind
	QueueID  string
	Rcpt     qmgr.Recipient
	Reason   string
	Outcome  string // only set for Kind == KindFinalize
}

// Kind distinguishes the three collaborator calls the scheduler makes.
type Kind int

const (
	KindBounce Kind = iota
	KindDefer
	KindFinalize
)

// Writer persists a batch of records - e.g. appending to a bounce/defer
// log file, or renaming/unlinking a queue file on finalize. Writer.Write
// is called off the scheduler's loop goroutine (from the microbatch
// worker), and must not touch scheduler state.
type Writer interface {
	Write(ctx context.Context, records []Record) error
}

// Log implements qmgr.BounceCollaborator, batching records through a
// microbatch.Batcher before handing them to a Writer.
type Log struct {
	writer  Writer
	logger  *qlog.Logger
	batcher *microbatch.Batcher[Record]
}

// New builds a Log writing through w, flushing whenever maxBatch records
// accumulate or flushInterval elapses, whichever comes first.
func New(w Writer, logger *qlog.Logger, maxBatch int, flushInterval time.Duration) *Log {
	l := &Log{writer: w, logger: logger}
	l.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:       maxBatch,
		FlushInterval: flushInterval,
	}, l.process)
	return l
}

func (l *Log) process(ctx context.Context, records []Record) error {
	if err := l.writer.Write(ctx, records); err != nil {
		if l.logger != nil {
			l.logger.Err().Str("error", err.Error()).Int("count", len(records)).Log("bouncelog: batch write failed")
		}
		return err
	}
	return nil
}

func (l *Log) submit(r Record) {
	// Bounce/defer/finalize logging failures must never propagate back
	// into scheduler state (§7): the log's own errors are swallowed here
	// after being surfaced through process's logging.
	_, _ = l.batcher.Submit(context.Background(), r)
}

// LogBounce implements qmgr.BounceCollaborator.
func (l *Log) LogBounce(queueID string, rcpt qmgr.Recipient, reason string) {
	l.submit(Record{Kind: KindBounce, QueueID: queueID, Rcpt: rcpt, Reason: reason})
}

// LogDefer implements qmgr.BounceCollaborator.
func (l *Log) LogDefer(queueID string, rcpt qmgr.Recipient, reason string) {
	l.submit(Record{Kind: KindDefer, QueueID: queueID, Rcpt: rcpt, Reason: reason})
}

// Finalize implements qmgr.BounceCollaborator.
func (l *Log) Finalize(queueID string, outcome string) {
	l.submit(Record{Kind: KindFinalize, QueueID: queueID, Outcome: outcome})
}

// Close flushes any pending batch and stops the batcher.
func (l *Log) Close() error { return l.batcher.Close() }

// DiscardWriter is a Writer that drops every batch, for tests that only
// care about qmgr's own accounting.
type DiscardWriter struct{}

func (DiscardWriter) Write(context.Context, []Record) error { return nil }

var _ io.Closer = (*Log)(nil)
