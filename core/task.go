package core

import "time"

// TaskStatus is the lifecycle state of a delegated task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransitionTo reports whether s -> next is a legal transition:
// pending->working, pending->failed, working->completed, working->failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskPending:
		return next == TaskWorking || next == TaskFailed
	case TaskWorking:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// TaskMetadata is persisted alongside a task as a JSON document.
type TaskMetadata struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	AgentID        string    `json:"agent_id"` // delegating agent
	GraphID        string    `json:"graph_id"`
}

// Task is a unit of delegated work. AgentID is the delegate (target) agent and
// ContextID always equals the owning conversation id.
type Task struct {
	ID        string       `json:"id"`
	Scope     Scope        `json:"scope"`
	AgentID   string       `json:"agent_id"`
	ContextID string       `json:"context_id"`
	Status    TaskStatus   `json:"status"`
	Metadata  TaskMetadata `json:"metadata"`
	Result    string       `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Clone returns a copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// TaskUpdate describes a status transition plus its outcome fields.
type TaskUpdate struct {
	Status TaskStatus
	Result string
	Error  string
}

// Apply validates the transition from t's current status and mutates t.
func (t *Task) Apply(u TaskUpdate, now time.Time) error {
	if !t.Status.CanTransitionTo(u.Status) {
		return ErrInvalidTransition
	}
	t.Status = u.Status
	if u.Result != "" {
		t.Result = u.Result
	}
	if u.Error != "" {
		t.Error = u.Error
	}
	t.Metadata.UpdatedAt = now
	return nil
}
