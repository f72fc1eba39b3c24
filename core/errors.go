package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set observed a different value.
	ErrConflict = errors.New("compare-and-set conflict")
	// ErrUnresolvedContextID is returned when no real conversation id can be
	// derived for an A2A message or task.
	ErrUnresolvedContextID = errors.New("unresolved context id")
	// ErrInvalidTransition is returned for an illegal task status change.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// ConfigurationError reports an invalid graph or agent declaration. It is
// fatal at load time.
type ConfigurationError struct {
	GraphID string
	AgentID string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("configuration error in graph %q agent %q: %s", e.GraphID, e.AgentID, e.Reason)
	}
	return fmt.Sprintf("configuration error in graph %q: %s", e.GraphID, e.Reason)
}

// ContextValidationError reports missing or invalid request headers or
// context variables. It is scoped to a single turn.
type ContextValidationError struct {
	GraphID string
	Field   string
	Reason  string
	Err     error
}

func (e *ContextValidationError) Error() string {
	msg := fmt.Sprintf("context validation failed for graph %q", e.GraphID)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ContextValidationError) Unwrap() error { return e.Err }

// DelegationTimeoutError reports a delegated task that exceeded its deadline.
type DelegationTimeoutError struct {
	TaskID  string
	AgentID string
	Timeout time.Duration
}

func (e *DelegationTimeoutError) Error() string {
	return fmt.Sprintf("delegation task %s to agent %q timed out after %s", e.TaskID, e.AgentID, e.Timeout)
}

// ModelInvocationError reports a model call that failed after all retries.
type ModelInvocationError struct {
	AgentID  string
	Attempts int
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation for agent %q failed after %d attempt(s): %v", e.AgentID, e.Attempts, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// StreamWriteError reports that the client stream can no longer be written.
type StreamWriteError struct {
	Err error
}

func (e *StreamWriteError) Error() string { return fmt.Sprintf("stream write failed: %v", e.Err) }

func (e *StreamWriteError) Unwrap() error { return e.Err }

// LimitExceededError reports that a turn hit its step or transfer bound.
type LimitExceededError struct {
	AgentID string
	Limit   string // "steps" or "transfers"
	Max     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("agent %q exceeded max %s: %d", e.AgentID, e.Limit, e.Max)
}

// Error codes carried by terminal error frames.
const (
	CodeConfiguration     = "configuration_error"
	CodeContextValidation = "context_validation_error"
	CodeDelegationTimeout = "delegation_timeout"
	CodeModelInvocation   = "model_invocation_error"
	CodeStreamWrite       = "stream_write_error"
	CodeLimitExceeded     = "limit_exceeded"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal_error"
)

// ErrorCode maps an error onto the code reported to clients.
func ErrorCode(err error) string {
	var (
		cfgErr    *ConfigurationError
		ctxErr    *ContextValidationError
		toErr     *DelegationTimeoutError
		modelErr  *ModelInvocationError
		streamErr *StreamWriteError
		limitErr  *LimitExceededError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return CodeConfiguration
	case errors.As(err, &ctxErr):
		return CodeContextValidation
	case errors.As(err, &toErr):
		return CodeDelegationTimeout
	case errors.As(err, &modelErr):
		return CodeModelInvocation
	case errors.As(err, &streamErr):
		return CodeStreamWrite
	case errors.As(err, &limitErr):
		return CodeLimitExceeded
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
