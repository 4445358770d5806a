// Package qlog provides the scheduler's structured logger: a thin,
// pre-wired logiface.Logger backed by zerolog via izerolog, so every
// package logs through the same leveled, field-based API instead of
// reaching for the standard library's log package directly.
package qlog

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the scheduler-wide logger type alias, parameterized over the
// zerolog-backed event implementation.
type Logger = logiface.Logger[*izerolog.Event]

// Builder is the fluent per-entry field builder returned by the Logger's
// level methods (Info(), Err(), and so on).
type Builder = logiface.Builder[*izerolog.Event]

// Option configures a Logger at construction time.
type Option = logiface.Option[*izerolog.Event]

// New builds a Logger writing JSON lines to w at the given minimum level.
// A nil w defaults to os.Stderr.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return izerolog.L.New(izerolog.L.WithZerolog(zl), level)
}

// NewConsole builds a Logger writing human-readable (non-JSON) output to
// os.Stderr, for interactive/development use.
func NewConsole(level logiface.Level) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return izerolog.L.New(izerolog.L.WithZerolog(zl), level)
}

// Discard builds a Logger that drops all output, for tests that exercise
// logging call sites without asserting on log content.
func Discard() *Logger {
	zl := zerolog.New(io.Discard)
	return izerolog.L.New(izerolog.L.WithZerolog(zl), logiface.LevelTrace)
}

// Level re-exports logiface's level type so callers configuring a Logger
// need not import logiface directly.
type Level = logiface.Level

const (
	LevelDisabled     = logiface.LevelDisabled
	LevelEmergency    = logiface.LevelEmergency
	LevelAlert        = logiface.LevelAlert
	LevelCritical     = logiface.LevelCritical
	LevelError        = logiface.LevelError
	LevelWarning      = logiface.LevelWarning
	LevelNotice       = logiface.LevelNotice
	LevelInformational = logiface.LevelInformational
	LevelDebug        = logiface.LevelDebug
	LevelTrace        = logiface.LevelTrace
)
