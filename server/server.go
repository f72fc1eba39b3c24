// Package server exposes a Runner over HTTP: the streaming chat endpoint, the
// A2A endpoint used for remote delegation, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/visioninhope/agents-sub013/a2a"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/graph"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
	"github.com/visioninhope/agents-sub013/runner"
	"github.com/visioninhope/agents-sub013/stream"
)

// Request headers of the chat endpoint.
const (
	HeaderTenantID       = "x-tenant-id"
	HeaderProjectID      = "x-project-id"
	HeaderGraphID        = "x-graph-id"
	HeaderConversationID = "x-conversation-id"
	HeaderTurnID         = "x-turn-id"
)

const maxBodyBytes = 1 << 20

// Options configures a Server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            logging.Logger
	Metrics           *metrics.Collector
}

// Server serves the HTTP API of a Runner.
type Server struct {
	runner  *runner.Runner
	graphs  graph.Source
	opts    Options
	logger  *logging.StructuredLogger
	handler http.Handler
}

// New creates a server for r. graphs resolves the graph addressed by the
// x-graph-id header.
func New(r *runner.Runner, graphs graph.Source, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		runner: r,
		graphs: graphs,
		opts:   opts,
		logger: logging.Wrap(opts.Logger).WithComponent("server"),
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.route("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /a2a/{graphId}/{agentId}", s.route("a2a", a2a.NewHTTPHandler(r.HandleDelegation)))
	mux.Handle("GET /healthz", s.route("healthz", http.HandlerFunc(handleHealth)))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	s.handler = chain(mux, recovery(s.logger), requestLogger(s.logger))
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on Options.Addr until ctx is done, then shuts down
// gracefully. In-flight turns keep running until ShutdownTimeout elapses.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.started", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server.shutdown.start")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

// route wraps h with request counting under a fixed route label.
func (s *Server) route(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rw, r)
		s.opts.Metrics.IncHTTPRequest(name, rw.status)
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage  `json:"messages"`
	ConversationID *string        `json:"conversationId,omitempty"`
	RequestContext map[string]any `json:"requestContext,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	text, ok := lastUserMessage(body.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "messages must contain a user message")
		return
	}

	convID := core.NewID()
	if body.ConversationID != nil {
		convID = strings.TrimSpace(*body.ConversationID)
		if convID == "" || convID == a2a.DefaultContextID {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("conversationId %q is not allowed", convID))
			return
		}
	}

	scope, status, err := s.scope(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	req := runner.ChatRequest{
		Scope:          scope,
		ConversationID: convID,
		TurnID:         r.Header.Get(HeaderTurnID),
		Message:        core.NewTextContent(core.RoleUser, text),
		Headers:        r.Header,
		Body:           body.RequestContext,
	}

	stream.SetHeaders(w.Header())
	w.Header().Set(HeaderConversationID, convID)
	w.WriteHeader(http.StatusOK)

	if _, err := s.runner.Run(r.Context(), req, stream.NewWriter(w)); err != nil {
		s.logger.Debug("server.chat.failed", "conversation_id", convID, "error", err, "code", core.ErrorCode(err))
	}
}

// scope builds the turn scope from the request headers. Tenant and project
// default to the graph's own scope and must match it when given.
func (s *Server) scope(r *http.Request) (core.Scope, int, error) {
	graphID := r.Header.Get(HeaderGraphID)
	if graphID == "" {
		return core.Scope{}, http.StatusBadRequest, fmt.Errorf("missing %s header", HeaderGraphID)
	}

	g, err := s.graphs.Graph(graphID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Scope{}, http.StatusNotFound, fmt.Errorf("graph %q not found", graphID)
		}
		return core.Scope{}, http.StatusInternalServerError, err
	}

	scope := g.Scope()
	for _, h := range []struct {
		name  string
		value *string
	}{
		{HeaderTenantID, &scope.TenantID},
		{HeaderProjectID, &scope.ProjectID},
	} {
		v := r.Header.Get(h.name)
		if v == "" {
			continue
		}
		if *h.value != "" && *h.value != v {
			return core.Scope{}, http.StatusNotFound, fmt.Errorf("graph %q not found", graphID)
		}
		*h.value = v
	}

	return scope, 0, nil
}

func lastUserMessage(msgs []chatMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content, true
		}
	}
	return "", false
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
