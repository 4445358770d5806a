// Package backoff classifies destination-queue failures as sustained or
// transient, and computes retry deadlines for throttled destinations.
//
// "Sustained destination failure" is left as a caller judgment by the
// scheduling spec; this package resolves that judgment with a sliding
// window of recent DEFER/connection-refused reports per destination,
// distinguishing a single flaky delivery from a genuinely dead site.
package backoff

import (
	"math"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Default sliding-window thresholds: 3 failures within 10 seconds for a
// single destination is classified as sustained, not transient.
const (
	DefaultWindow    = 10 * time.Second
	DefaultThreshold = 3
)

// Classifier tracks per-destination failure events and decides when a
// destination has crossed from "flaky" to "sustained failure".
type Classifier struct {
	limiter *catrate.Limiter
}

// NewClassifier builds a Classifier with the given window/threshold. A
// destination is classified as sustained once more than threshold events
// land within window.
func NewClassifier(window time.Duration, threshold int) *Classifier {
	return &Classifier{
		limiter: catrate.NewLimiter(map[time.Duration]int{window: threshold}),
	}
}

// NewDefaultClassifier builds a Classifier using DefaultWindow/DefaultThreshold.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultWindow, DefaultThreshold)
}

// RecordFailure registers a DEFER/connection-refused report against
// destination, and reports whether the destination has now exceeded its
// failure-rate threshold (i.e. should be throttled as a sustained failure).
func (c *Classifier) RecordFailure(destination string) bool {
	_, allowed := c.limiter.Allow(destination)
	return !allowed
}

// Schedule computes retry delays for successive throttle episodes against
// the same destination, growing exponentially between min and max.
type Schedule struct {
	Min, Max time.Duration
}

// NewSchedule validates and returns a Schedule. Panics if min <= 0, max <
// min - these are configuration-time contract violations, not recoverable
// runtime errors.
func NewSchedule(min, max time.Duration) Schedule {
	if min <= 0 {
		panic("backoff: minimal_backoff_time must be positive")
	}
	if max < min {
		panic("backoff: maximal_backoff_time must be >= minimal_backoff_time")
	}
	return Schedule{Min: min, Max: max}
}

// Delay returns the retry delay for the attempt'th consecutive throttle
// episode (attempt starts at 1), doubling from Min and clamped to Max.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// cap the shift to avoid overflow for pathologically large attempt counts
	shift := attempt - 1
	if shift > 32 {
		shift = 32
	}
	scaled := float64(s.Min) * math.Pow(2, float64(shift))
	if scaled <= 0 || scaled > float64(s.Max) {
		return s.Max
	}
	d := time.Duration(scaled)
	if d > s.Max {
		return s.Max
	}
	return d
}
