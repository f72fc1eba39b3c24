package core

import "context"

// ConversationStore persists conversations and their message history.
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// GetConversation returns ErrNotFound when the conversation does not exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// CreateConversation returns ErrConflict when the id is already taken.
	CreateConversation(ctx context.Context, conv *Conversation) error
	// CompareAndSetActiveAgent sets the active agent to next only if it
	// currently equals expected; otherwise it returns ErrConflict.
	CompareAndSetActiveAgent(ctx context.Context, id, expected, next string) error
	// AppendMessage appends to the conversation history.
	AppendMessage(ctx context.Context, msg Message) error
	// ListMessages returns history in insertion order. limit <= 0 returns all,
	// otherwise the most recent limit messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

// TaskStore persists delegation tasks.
type TaskStore interface {
	// CreateTask returns ErrConflict when the id is already taken.
	CreateTask(ctx context.Context, task *Task) error
	// GetTask returns ErrNotFound when the task does not exist.
	GetTask(ctx context.Context, id string) (*Task, error)
	// TransitionTask applies update only if the task is currently in status
	// from (ErrConflict otherwise) and the transition is legal
	// (ErrInvalidTransition otherwise). It returns the updated task.
	TransitionTask(ctx context.Context, id string, from TaskStatus, update TaskUpdate) (*Task, error)
	// ListTasks returns the tasks of a conversation, optionally filtered by status.
	ListTasks(ctx context.Context, conversationID string, statuses ...TaskStatus) ([]*Task, error)
}

// Store combines both persistence concerns of the runtime.
type Store interface {
	ConversationStore
	TaskStore
}
