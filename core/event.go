package core

import (
	"sync"
	"time"
)

// EventType classifies a graph session event.
type EventType string

const (
	EventToolCall           EventType = "tool_call"
	EventToolResult         EventType = "tool_result"
	EventGeneration         EventType = "generation"
	EventTransfer           EventType = "transfer"
	EventDelegationSent     EventType = "delegation_sent"
	EventDelegationReturned EventType = "delegation_returned"
	EventError              EventType = "error"
)

// Event records one notable step of a turn. After it is appended to an
// EventLog it must be treated as immutable.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current UTC time.
func NewEvent(typ EventType, agentID string, payload map[string]any) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Payload:   payload,
	}
}

// EventLog is the append-only event sequence of one turn. Readers follow it
// with an offset and are woken through Subscribe.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	subs   map[int]chan struct{}
	nextID int
	closed bool
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{subs: make(map[int]chan struct{})}
}

// Append adds an event and wakes subscribers. Appends after Close are dropped.
func (l *EventLog) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.events = append(l.events, ev)

	for _, ch := range l.subs {
		select {
		case ch <- struct{}{}:
		default: // already signalled
		}
	}
}

// Len returns the number of events appended so far.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Since returns a copy of the events at positions >= offset.
func (l *EventLog) Since(offset int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.events) {
		return nil
	}

	out := make([]Event, len(l.events)-offset)
	copy(out, l.events[offset:])
	return out
}

// Events returns a copy of all events.
func (l *EventLog) Events() []Event { return l.Since(0) }

// Subscribe returns a channel signalled after appends and a cancel function.
// The channel is closed when the log is closed or the subscription cancelled.
func (l *EventLog) Subscribe() (<-chan struct{}, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan struct{}, 1)
	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
		})
	}
}

// Close stops accepting events and closes every subscription.
func (l *EventLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true

	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}
