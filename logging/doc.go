// Package logging provides the minimal Logger interface every runtime package
// depends on, plus adapters for log/slog and go.uber.org/zap.
//
// The interface takes a message and alternating key/value pairs:
//
//	logger.Info("turn.step.start", "agent", agentID, "iteration", n)
//
// Messages are dotted keys (component.subject.event). NoOpLogger discards
// everything and is the default for every constructor.
package logging
