package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAndSince(t *testing.T) {
	log := NewEventLog()
	log.Append(NewEvent(EventToolCall, "a", nil))
	log.Append(NewEvent(EventToolResult, "a", nil))
	log.Append(NewEvent(EventGeneration, "a", nil))

	assert.Equal(t, 3, log.Len())

	tail := log.Since(1)
	require.Len(t, tail, 2)
	assert.Equal(t, EventToolResult, tail[0].Type)
	assert.Nil(t, log.Since(3))
	assert.Len(t, log.Since(-5), 3)
}

func TestEventLogSubscribe(t *testing.T) {
	log := NewEventLog()
	notify, cancel := log.Subscribe()
	defer cancel()

	log.Append(NewEvent(EventTransfer, "a", nil))
	log.Append(NewEvent(EventTransfer, "b", nil))

	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}

	log.Close()
	_, open := <-notify
	assert.False(t, open, "channel should be closed after Close")

	log.Append(NewEvent(EventError, "a", nil))
	assert.Equal(t, 2, log.Len(), "appends after close are dropped")
}

func TestEventLogCancelSubscription(t *testing.T) {
	log := NewEventLog()
	notify, cancel := log.Subscribe()
	cancel()
	cancel()

	_, open := <-notify
	assert.False(t, open)

	log.Append(NewEvent(EventGeneration, "a", nil))
}

func TestTurnContextRecordAndChild(t *testing.T) {
	conv := &Conversation{ID: "c1", Scope: Scope{GraphID: "g"}, ActiveAgentID: "router"}
	tc := NewTurnContext(conv, "m1", nil, nil)

	ev := tc.Record(EventGeneration, "router", map[string]any{"chars": 3})
	assert.Equal(t, EventGeneration, ev.Type)
	assert.Equal(t, 1, tc.Events.Len())

	child := tc.Child()
	assert.Equal(t, 1, child.Depth)
	assert.Same(t, tc.Events, child.Events)
	assert.NotSame(t, tc.Limiter, child.Limiter)
	assert.NotSame(t, tc.Conversation, child.Conversation)
	assert.Equal(t, "c1", child.ConversationID())

	ctx := WithTurn(t.Context(), child)
	got, ok := TurnFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, child, got)

	_, ok = TurnFromContext(t.Context())
	assert.False(t, ok)
}
