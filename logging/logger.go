package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string (debug, info, warn, error) into
// a LogLevel. Unknown values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface of the runtime. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// StructuredLogger decorates any Logger with fixed attributes (component,
// conversation and turn identifiers) and domain helpers for the turn runtime.
// With* methods return copies; the receiver is never mutated.
type StructuredLogger struct {
	base  Logger
	attrs []any
}

// LoggerConfig configures construction of a slog backed StructuredLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// NewLogger builds a slog backed StructuredLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := Wrap(NewSlogAdapter(slog.New(handler)))
	if cfg.Component != "" {
		l = l.WithComponent(cfg.Component)
	}

	return l
}

// Wrap turns any Logger into a StructuredLogger.
func Wrap(l Logger) *StructuredLogger {
	if sl, ok := l.(*StructuredLogger); ok {
		return sl
	}
	return &StructuredLogger{base: OrNoOp(l)}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *StructuredLogger) with(kv ...any) *StructuredLogger {
	attrs := make([]any, 0, len(l.attrs)+len(kv))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, kv...)
	return &StructuredLogger{base: l.base, attrs: attrs}
}

// With adds key/value attributes attached to every log entry.
func (l *StructuredLogger) With(kv ...any) *StructuredLogger { return l.with(kv...) }

// WithComponent sets the logical component (router, turn, delegation, ...).
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	return l.with("component", c)
}

// WithConversation attaches conversation and turn identifiers.
func (l *StructuredLogger) WithConversation(conversationID, turnID string) *StructuredLogger {
	return l.with("conversation_id", conversationID, "turn_id", turnID)
}

func (l *StructuredLogger) args(args []any) []any {
	if len(l.attrs) == 0 {
		return args
	}
	out := make([]any, 0, len(l.attrs)+len(args))
	out = append(out, l.attrs...)
	return append(out, args...)
}

// Debug logs at debug level.
func (l *StructuredLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.args(args)...) }

// Info logs at info level.
func (l *StructuredLogger) Info(msg string, args ...any) { l.base.Info(msg, l.args(args)...) }

// Warn logs at warn level.
func (l *StructuredLogger) Warn(msg string, args ...any) { l.base.Warn(msg, l.args(args)...) }

// Error logs at error level.
func (l *StructuredLogger) Error(msg string, args ...any) { l.base.Error(msg, l.args(args)...) }

// LogToolCall records execution details for a tool invocation.
func (l *StructuredLogger) LogToolCall(agentID, tool string, dur time.Duration, err error) {
	if err != nil {
		l.Error("tool.call.failed", "agent", agentID, "tool", tool, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("tool.call.completed", "agent", agentID, "tool", tool, "duration_ms", dur.Milliseconds())
}

// LogModelCall records model call latency, attempts and outcome.
func (l *StructuredLogger) LogModelCall(agentID, model string, attempts int, dur time.Duration, err error) {
	if err != nil {
		l.Error("model.call.failed", "agent", agentID, "model", model, "attempts", attempts, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Debug("model.call.completed", "agent", agentID, "model", model, "attempts", attempts, "duration_ms", dur.Milliseconds())
}

// LogTurn records aggregate turn metrics.
func (l *StructuredLogger) LogTurn(finalAgentID string, iterations int, dur time.Duration, err error) {
	if err != nil {
		l.Error("turn.failed", "agent", finalAgentID, "iterations", iterations, "duration_ms", dur.Milliseconds(), "error", err.Error(), "error_type", fmt.Sprintf("%T", err))
		return
	}
	l.Info("turn.completed", "agent", finalAgentID, "iterations", iterations, "duration_ms", dur.Milliseconds())
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *StructuredLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Debug("operation.completed", "operation", op, "duration_ms", time.Since(start).Milliseconds()) }
}

// NewSlogLogger creates a StructuredLogger with the specified level and format.
func NewSlogLogger(level LogLevel, format string, addSource bool) *StructuredLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}
