package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifierFlakyVsSustained(t *testing.T) {
	c := NewClassifier(10*time.Second, 3)

	require.False(t, c.RecordFailure("mx.example.com"))
	require.False(t, c.RecordFailure("mx.example.com"))
	require.False(t, c.RecordFailure("mx.example.com"))
	require.True(t, c.RecordFailure("mx.example.com"))
}

func TestClassifierPerDestination(t *testing.T) {
	c := NewClassifier(10*time.Second, 1)

	require.False(t, c.RecordFailure("a.example.com"))
	require.False(t, c.RecordFailure("b.example.com"))
}

func TestScheduleDelayGrowsAndClamps(t *testing.T) {
	s := NewSchedule(time.Second, 16*time.Second)

	require.Equal(t, time.Second, s.Delay(1))
	require.Equal(t, 2*time.Second, s.Delay(2))
	require.Equal(t, 4*time.Second, s.Delay(3))
	require.Equal(t, 16*time.Second, s.Delay(5))
	require.Equal(t, 16*time.Second, s.Delay(100))
}

func TestNewScheduleRejectsInvalidBounds(t *testing.T) {
	require.Panics(t, func() { NewSchedule(0, time.Second) })
	require.Panics(t, func() { NewSchedule(2*time.Second, time.Second) })
}
