package qlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInformational)

	logger.Info().Str("destination", "mx.example.com").Log("queue throttled")

	out := buf.String()
	require.True(t, strings.Contains(out, `"destination":"mx.example.com"`))
	require.True(t, strings.Contains(out, "queue throttled"))
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarning)

	logger.Debug().Str("k", "v").Log("should not appear")

	require.Empty(t, buf.String())
}

func TestDiscardNeverPanics(t *testing.T) {
	logger := Discard()
	logger.Info().Int("n", 1).Log("discarded")
}
