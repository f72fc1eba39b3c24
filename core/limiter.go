package core

import "sync"

// TurnLimiter counts model steps and transfers within one turn. The step
// counter restarts when the active agent changes; the transfer counter spans
// the whole turn. A max of 0 means unlimited.
type TurnLimiter struct {
	mu        sync.Mutex
	steps     int
	transfers int
	total     int
}

// NewTurnLimiter creates a limiter with zeroed counters.
func NewTurnLimiter() *TurnLimiter { return &TurnLimiter{} }

// Step records one model step for agentID and fails when max is exceeded.
func (l *TurnLimiter) Step(agentID string, max int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.steps++
	l.total++
	if max > 0 && l.steps > max {
		return &LimitExceededError{AgentID: agentID, Limit: "steps", Max: max}
	}

	return nil
}

// CheckTransfer reports whether one more transfer out of agentID would
// exceed max, without recording it.
func (l *TurnLimiter) CheckTransfer(agentID string, max int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max > 0 && l.transfers+1 > max {
		return &LimitExceededError{AgentID: agentID, Limit: "transfers", Max: max}
	}

	return nil
}

// Transfer records one transfer out of agentID and fails when max is
// exceeded. A successful transfer resets the step counter.
func (l *TurnLimiter) Transfer(agentID string, max int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transfers++
	if max > 0 && l.transfers > max {
		return &LimitExceededError{AgentID: agentID, Limit: "transfers", Max: max}
	}
	l.steps = 0

	return nil
}

// Steps returns the total number of steps taken in the turn.
func (l *TurnLimiter) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Transfers returns the number of transfers taken in the turn.
func (l *TurnLimiter) Transfers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfers
}
