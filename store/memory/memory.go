// Package memory provides a volatile core.Store kept in process local maps.
// It is safe for concurrent access and suited to tests or single-node demo
// servers. Returned records are copies, so callers cannot mutate stored state.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visioninhope/agents-sub013/core"
)

// Store implements core.Store in memory.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	messages      map[string][]core.Message
	tasks         map[string]*core.Task
	tasksByConv   map[string][]string
	now           func() time.Time
}

var _ core.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*core.Conversation),
		messages:      make(map[string][]core.Message),
		tasks:         make(map[string]*core.Task),
		tasksByConv:   make(map[string][]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", id, core.ErrNotFound)
	}
	return conv.Clone(), nil
}

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(_ context.Context, conv *core.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %q: %w", conv.ID, core.ErrConflict)
	}

	stored := conv.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.conversations[conv.ID] = stored

	return nil
}

// CompareAndSetActiveAgent implements core.ConversationStore.
func (s *Store) CompareAndSetActiveAgent(_ context.Context, id, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %q: %w", id, core.ErrNotFound)
	}
	if conv.ActiveAgentID != expected {
		return fmt.Errorf("conversation %q active agent is %q, expected %q: %w", id, conv.ActiveAgentID, expected, core.ErrConflict)
	}

	conv.ActiveAgentID = next
	conv.UpdatedAt = s.now()

	return nil
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %q: %w", msg.ConversationID, core.ErrNotFound)
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	return nil
}

// ListMessages implements core.ConversationStore.
func (s *Store) ListMessages(_ context.Context, conversationID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %q: %w", task.ID, core.ErrConflict)
	}

	s.tasks[task.ID] = task.Clone()
	s.tasksByConv[task.ContextID] = append(s.tasksByConv[task.ContextID], task.ID)

	return nil
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(_ context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, core.ErrNotFound)
	}
	return task.Clone(), nil
}

// TransitionTask implements core.TaskStore.
func (s *Store) TransitionTask(_ context.Context, id string, from core.TaskStatus, update core.TaskUpdate) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, core.ErrNotFound)
	}
	if task.Status != from {
		return nil, fmt.Errorf("task %q is %s, expected %s: %w", id, task.Status, from, core.ErrConflict)
	}

	next := task.Clone()
	if err := next.Apply(update, s.now()); err != nil {
		return nil, fmt.Errorf("task %q %s -> %s: %w", id, from, update.Status, err)
	}
	s.tasks[id] = next

	return next.Clone(), nil
}

// ListTasks implements core.TaskStore.
func (s *Store) ListTasks(_ context.Context, conversationID string, statuses ...core.TaskStatus) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Task
	for _, id := range s.tasksByConv[conversationID] {
		task := s.tasks[id]
		if matchStatus(task.Status, statuses) {
			out = append(out, task.Clone())
		}
	}
	return out, nil
}

func matchStatus(s core.TaskStatus, statuses []core.TaskStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
