package stream

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/visioninhope/agents-sub013/core"
)

// Sink receives the frames of a turn.
type Sink interface {
	Write(f Frame) error
	Close() error
}

// Writer is the SSE sink of one turn. It is safe for concurrent use; frames
// are written whole and in call order.
//
// Writer keeps two ordering rules: content of an agent is always preceded by
// a role frame for that agent (one is inserted when missing), and a
// completion operation that follows unterminated text is preceded by a "\n"
// text delta. Once a write fails every later call returns a
// *core.StreamWriteError.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	flusher   http.Flusher
	roleAgent string
	hasRole   bool
	textOpen  bool
	err       error
	closed    bool
}

// NewWriter wraps w. When w is an http.Flusher it is flushed after every frame.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write implements Sink.
func (sw *Writer) Write(f Frame) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.err != nil {
		return sw.err
	}
	if sw.closed {
		return &core.StreamWriteError{Err: io.ErrClosedPipe}
	}

	return sw.write(f)
}

func (sw *Writer) write(f Frame) error {
	switch {
	case f.Type == FrameRole:
		sw.roleAgent, sw.hasRole = f.AgentID, true
		sw.textOpen = false
	case f.IsContent():
		if !sw.hasRole || (f.AgentID != "" && f.AgentID != sw.roleAgent) {
			if err := sw.write(RoleFrame(f.AgentID)); err != nil {
				return err
			}
		}
		if f.Operation() == OpCompletion && sw.textOpen {
			if err := sw.emit(TextDelta(sw.roleAgent, "\n")); err != nil {
				return err
			}
		}
	}

	if err := sw.emit(f); err != nil {
		return err
	}

	if f.Type == FrameTextDelta {
		sw.textOpen = f.Delta != "" && !strings.HasSuffix(f.Delta, "\n")
	} else if f.IsContent() {
		sw.textOpen = false
	}

	return nil
}

func (sw *Writer) emit(f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	return sw.raw(b)
}

func (sw *Writer) raw(b []byte) error {
	if _, err := sw.w.Write(b); err != nil {
		sw.err = &core.StreamWriteError{Err: err}
		return sw.err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Close writes the done frame and the terminator. It is idempotent and a
// no-op after a failed write.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed || sw.err != nil {
		return sw.err
	}
	sw.closed = true

	if err := sw.emit(DoneFrame()); err != nil {
		return err
	}
	return sw.raw(Terminator)
}

// Collector is an in-memory sink used by delegated sub-turns whose output is
// returned to the delegating agent instead of a client.
type Collector struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Write implements Sink.
func (c *Collector) Write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &core.StreamWriteError{Err: io.ErrClosedPipe}
	}
	c.frames = append(c.frames, f)
	return nil
}

// Close implements Sink.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Frames returns a copy of the collected frames.
func (c *Collector) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Text concatenates every text delta.
func (c *Collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	for _, f := range c.frames {
		if f.Type == FrameTextDelta {
			sb.WriteString(f.Delta)
		}
	}
	return sb.String()
}

// Artifacts returns the data of every artifact frame.
func (c *Collector) Artifacts() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, f := range c.frames {
		if f.Type == FrameDataArtifact {
			out = append(out, f.Data)
		}
	}
	return out
}
