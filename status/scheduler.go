// Package status produces periodic progress summaries of a running turn.
//
// A Scheduler counts events and elapsed time since the last update and fires
// when either configured trigger is reached. A Reporter follows a turn's
// event log, drives the scheduler and turns each window of events into a
// summary through a Summarizer.
package status

import (
	"time"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
)

// Config holds the two triggers. A zero trigger is disabled.
type Config struct {
	NumEvents int
	Interval  time.Duration
	Prompt    string
}

// FromGraph converts a graph's status update declaration.
func FromGraph(s graph.StatusUpdates) Config {
	return Config{
		NumEvents: s.NumEvents,
		Interval:  time.Duration(s.TimeInSeconds) * time.Second,
		Prompt:    s.Prompt,
	}
}

// Enabled reports whether any trigger is set.
func (c Config) Enabled() bool { return c.NumEvents > 0 || c.Interval > 0 }

// Scheduler decides when a status update is due. It is not safe for
// concurrent use; a Reporter owns one per turn.
type Scheduler struct {
	cfg     Config
	pending []core.Event
	last    time.Time
}

// NewScheduler creates a scheduler whose time window starts at now.
func NewScheduler(cfg Config, now time.Time) *Scheduler {
	return &Scheduler{cfg: cfg, last: now}
}

// Observe counts an event toward the current window.
func (s *Scheduler) Observe(ev core.Event) { s.pending = append(s.pending, ev) }

// Pending returns the number of events since the last update.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Due reports whether an update should fire at now. The time trigger needs at
// least one pending event.
func (s *Scheduler) Due(now time.Time) bool {
	if s.cfg.NumEvents > 0 && len(s.pending) >= s.cfg.NumEvents {
		return true
	}
	return s.cfg.Interval > 0 && len(s.pending) > 0 && now.Sub(s.last) >= s.cfg.Interval
}

// Fire closes the current window: it returns the window's events and resets
// both counters.
func (s *Scheduler) Fire(now time.Time) []core.Event {
	events := s.pending
	s.pending = nil
	s.last = now
	return events
}
