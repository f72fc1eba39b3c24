package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("bogus"))
}

func TestStructuredLoggerAttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf, Component: "turn"})

	l.WithConversation("conv-1", "turn-1").Info("turn.step.start", "agent", "router")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "turn.step.start", entry["msg"])
	assert.Equal(t, "turn", entry["component"])
	assert.Equal(t, "conv-1", entry["conversation_id"])
	assert.Equal(t, "turn-1", entry["turn_id"])
	assert.Equal(t, "router", entry["agent"])
}

func TestStructuredLoggerWithDoesNotMutate(t *testing.T) {
	base := Wrap(nil)
	child := base.With("k", "v")
	assert.Empty(t, base.attrs)
	assert.Equal(t, []any{"k", "v"}, child.attrs)
	assert.Same(t, child, Wrap(child))
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(NewZapAdapter(zap.New(core))).WithComponent("delegation")

	l.LogTurn("router", 3, time.Second, errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "turn.failed", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "delegation", fields["component"])
	assert.Equal(t, "router", fields["agent"])
	assert.Equal(t, "boom", fields["error"])
}

func TestNewZapLoggerRejectsUnknownFormat(t *testing.T) {
	_, err := NewZapLogger("info", "xml")
	assert.Error(t, err)

	l, err := NewZapLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)
}
