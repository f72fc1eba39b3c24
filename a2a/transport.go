package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/visioninhope/agents-sub013/core"
)

// Transport delivers a message to its target agent and returns the reply.
type Transport interface {
	Send(ctx context.Context, msg Message) (Message, error)
}

// Handler processes an inbound message addressed to an agent.
type Handler func(ctx context.Context, msg Message) (Message, error)

// LocalTransport dispatches messages to an in-process handler.
type LocalTransport struct {
	handler Handler
}

// NewLocalTransport creates a transport that calls h directly.
func NewLocalTransport(h Handler) *LocalTransport { return &LocalTransport{handler: h} }

// Send implements Transport.
func (t *LocalTransport) Send(ctx context.Context, msg Message) (Message, error) {
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if msg.Metadata.ToAgentID == "" {
		return Message{}, ErrMissingTarget
	}
	if t.handler == nil {
		return Message{}, fmt.Errorf("a2a: local transport has no handler")
	}
	return t.handler(ctx, msg)
}

// HTTPTransport posts messages to {BaseURL}/a2a/{graphId}/{agentId}.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	headers http.Header
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Client  *http.Client
	Headers http.Header
}

// NewHTTPTransport creates a transport for a remote runtime.
func NewHTTPTransport(baseURL string, optFns ...func(o *HTTPOptions)) *HTTPTransport {
	opts := HTTPOptions{Client: &http.Client{Timeout: 5 * time.Minute}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: opts.Client, headers: opts.Headers}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, msg Message) (Message, error) {
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if msg.Metadata.ToAgentID == "" || msg.Metadata.GraphID == "" {
		return Message{}, ErrMissingTarget
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}

	endpoint := fmt.Sprintf("%s/a2a/%s/%s", t.baseURL, url.PathEscape(msg.Metadata.GraphID), url.PathEscape(msg.Metadata.ToAgentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Message{}, err
	}
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Message{}, fmt.Errorf("a2a: %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var reply Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Message{}, fmt.Errorf("a2a: decode reply: %w", err)
	}
	return reply, nil
}

// NewHTTPHandler serves POST /a2a/{graphId}/{agentId}. The path values
// override the envelope's GraphID and ToAgentID.
func NewHTTPHandler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg Message
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
			http.Error(w, "invalid a2a message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if g := r.PathValue("graphId"); g != "" {
			msg.Metadata.GraphID = g
		}
		if a := r.PathValue("agentId"); a != "" {
			msg.Metadata.ToAgentID = a
		}

		if err := msg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply, err := h(r.Context(), msg)
		if err != nil {
			var cfgErr *core.ConfigurationError
			if errors.As(err, &cfgErr) {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	})
}
