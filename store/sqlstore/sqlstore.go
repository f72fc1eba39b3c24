// Package sqlstore implements core.Store on a relational database through
// gorm. Postgres is the production target; the pure Go sqlite driver serves
// local runs and tests. Compare-and-set updates are single-row conditional
// UPDATEs.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/visioninhope/agents-sub013/core"
)

type conversationRow struct {
	ID            string `gorm:"primaryKey;size:128"`
	TenantID      string `gorm:"size:128;index:idx_conversation_scope"`
	ProjectID     string `gorm:"size:128;index:idx_conversation_scope"`
	GraphID       string `gorm:"size:128;index:idx_conversation_scope"`
	ActiveAgentID string `gorm:"size:128"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	Seq            uint64       `gorm:"primaryKey;autoIncrement"`
	ID             string       `gorm:"uniqueIndex;size:64"`
	ConversationID string       `gorm:"index;size:128"`
	Role           string       `gorm:"size:16"`
	AgentID        string       `gorm:"size:128"`
	Content        core.Content `gorm:"serializer:json;type:text"`
	CreatedAt      time.Time
}

func (messageRow) TableName() string { return "messages" }

type taskRow struct {
	ID        string            `gorm:"primaryKey;size:64"`
	TenantID  string            `gorm:"size:128"`
	ProjectID string            `gorm:"size:128"`
	GraphID   string            `gorm:"size:128"`
	AgentID   string            `gorm:"size:128"`
	ContextID string            `gorm:"index;size:128"`
	Status    string            `gorm:"index;size:16"`
	Metadata  core.TaskMetadata `gorm:"serializer:json;type:text"`
	Result    string            `gorm:"type:text"`
	Error     string            `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (taskRow) TableName() string { return "tasks" }

// Store implements core.Store with gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ core.Store = (*Store)(nil)

// New migrates the schema and returns a Store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}, &taskRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var row conversationRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, translate(err))
	}
	return row.toConversation(), nil
}

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	now := s.now()
	row := conversationRow{
		ID:            conv.ID,
		TenantID:      conv.Scope.TenantID,
		ProjectID:     conv.Scope.ProjectID,
		GraphID:       conv.Scope.GraphID,
		ActiveAgentID: conv.ActiveAgentID,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     now,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation %q: %w", conv.ID, core.ErrConflict)
	}

	return nil
}

// CompareAndSetActiveAgent implements core.ConversationStore.
func (s *Store) CompareAndSetActiveAgent(ctx context.Context, id, expected, next string) error {
	res := s.db.WithContext(ctx).
		Model(&conversationRow{}).
		Where("id = ? AND active_agent_id = ?", id, expected).
		Updates(map[string]any{"active_agent_id": next, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("conversation %q set active agent %q: %w", id, next, core.ErrConflict)
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", msg.ConversationID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %q: %w", msg.ConversationID, core.ErrNotFound)
	}

	row := messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		AgentID:        msg.AgentID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListMessages implements core.ConversationStore.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	var rows []messageRow

	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if limit > 0 {
		q = q.Order("seq DESC").Limit(limit)
	} else {
		q = q.Order("seq ASC")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	msgs := make([]core.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, core.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Role:           r.Role,
			AgentID:        r.AgentID,
			Content:        r.Content,
			CreatedAt:      r.CreatedAt,
		})
	}
	return msgs, nil
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	row := taskRow{
		ID:        task.ID,
		TenantID:  task.Scope.TenantID,
		ProjectID: task.Scope.ProjectID,
		GraphID:   task.Scope.GraphID,
		AgentID:   task.AgentID,
		ContextID: task.ContextID,
		Status:    string(task.Status),
		Metadata:  task.Metadata,
		Result:    task.Result,
		Error:     task.Error,
		CreatedAt: task.Metadata.CreatedAt,
		UpdatedAt: task.Metadata.UpdatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
		row.UpdatedAt = row.CreatedAt
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %q: %w", task.ID, core.ErrConflict)
	}
	return nil
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, fmt.Errorf("task %q: %w", id, translate(err))
	}
	return row.toTask(), nil
}

// TransitionTask implements core.TaskStore.
func (s *Store) TransitionTask(ctx context.Context, id string, from core.TaskStatus, update core.TaskUpdate) (*core.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != from {
		return nil, fmt.Errorf("task %q is %s, expected %s: %w", id, task.Status, from, core.ErrConflict)
	}

	now := s.now()
	if err := task.Apply(update, now); err != nil {
		return nil, fmt.Errorf("task %q %s -> %s: %w", id, from, update.Status, err)
	}

	res := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":     string(task.Status),
			"result":     task.Result,
			"error":      task.Error,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("task %q changed concurrently: %w", id, core.ErrConflict)
	}

	return task, nil
}

// ListTasks implements core.TaskStore.
func (s *Store) ListTasks(ctx context.Context, conversationID string, statuses ...core.TaskStatus) ([]*core.Task, error) {
	q := s.db.WithContext(ctx).Where("context_id = ?", conversationID).Order("created_at ASC, id ASC")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}

	var rows []taskRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*core.Task, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toTask())
	}
	return out, nil
}

func (r *conversationRow) toConversation() *core.Conversation {
	return &core.Conversation{
		ID:            r.ID,
		Scope:         core.Scope{TenantID: r.TenantID, ProjectID: r.ProjectID, GraphID: r.GraphID},
		ActiveAgentID: r.ActiveAgentID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r *taskRow) toTask() *core.Task {
	md := r.Metadata
	md.UpdatedAt = r.UpdatedAt
	return &core.Task{
		ID:        r.ID,
		Scope:     core.Scope{TenantID: r.TenantID, ProjectID: r.ProjectID, GraphID: r.GraphID},
		AgentID:   r.AgentID,
		ContextID: r.ContextID,
		Status:    core.TaskStatus(r.Status),
		Metadata:  md,
		Result:    r.Result,
		Error:     r.Error,
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.ErrNotFound
	}
	return err
}
