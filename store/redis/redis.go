// Package redis implements core.Store on Redis. Records are JSON documents;
// compare-and-set updates use WATCH/MULTI so concurrent writers never both
// succeed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/visioninhope/agents-sub013/core"
)

// Options configures a Store.
type Options struct {
	KeyPrefix string
}

// Config holds connection settings for Dial.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Store implements core.Store on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ core.Store = (*Store)(nil)

// New wraps an existing client.
func New(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: "agents:"}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		client: client,
		prefix: opts.KeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Dial connects to Redis, verifies the connection and returns a Store.
func Dial(ctx context.Context, cfg Config, optFns ...func(o *Options)) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, optFns...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *Store) convKey(id string) string     { return s.prefix + "conv:" + id }
func (s *Store) messagesKey(id string) string { return s.prefix + "conv:" + id + ":messages" }
func (s *Store) convTasksKey(id string) string {
	return s.prefix + "conv:" + id + ":tasks"
}
func (s *Store) taskKey(id string) string { return s.prefix + "task:" + id }

// GetConversation implements core.ConversationStore.
func (s *Store) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var conv core.Conversation
	if err := s.getJSON(ctx, s.client, s.convKey(id), &conv); err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, err)
	}
	return &conv, nil
}

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, conv *core.Conversation) error {
	stored := conv.Clone()
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.convKey(conv.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation %q: %w", conv.ID, core.ErrConflict)
	}

	return nil
}

// CompareAndSetActiveAgent implements core.ConversationStore.
func (s *Store) CompareAndSetActiveAgent(ctx context.Context, id, expected, next string) error {
	key := s.convKey(id)

	txf := func(tx *redis.Tx) error {
		var conv core.Conversation
		if err := s.getJSON(ctx, tx, key, &conv); err != nil {
			return err
		}
		if conv.ActiveAgentID != expected {
			return core.ErrConflict
		}

		conv.ActiveAgentID = next
		conv.UpdatedAt = s.now()

		data, err := json.Marshal(&conv)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return fmt.Errorf("conversation %q set active agent %q: %w", id, next, err)
	}
	return nil
}

// AppendMessage implements core.ConversationStore.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) error {
	n, err := s.client.Exists(ctx, s.convKey(msg.ConversationID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %q: %w", msg.ConversationID, core.ErrNotFound)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.client.RPush(ctx, s.messagesKey(msg.ConversationID), data).Err()
}

// ListMessages implements core.ConversationStore.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]core.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, err
	}

	msgs := make([]core.Message, 0, len(raw))
	for _, r := range raw {
		var m core.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}

// CreateTask implements core.TaskStore.
func (s *Store) CreateTask(ctx context.Context, task *core.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %q: %w", task.ID, core.ErrConflict)
	}

	score := float64(task.Metadata.CreatedAt.UnixNano())
	return s.client.ZAdd(ctx, s.convTasksKey(task.ContextID), redis.Z{Score: score, Member: task.ID}).Err()
}

// GetTask implements core.TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	var task core.Task
	if err := s.getJSON(ctx, s.client, s.taskKey(id), &task); err != nil {
		return nil, fmt.Errorf("task %q: %w", id, err)
	}
	return &task, nil
}

// TransitionTask implements core.TaskStore.
func (s *Store) TransitionTask(ctx context.Context, id string, from core.TaskStatus, update core.TaskUpdate) (*core.Task, error) {
	key := s.taskKey(id)
	var updated core.Task

	txf := func(tx *redis.Tx) error {
		if err := s.getJSON(ctx, tx, key, &updated); err != nil {
			return err
		}
		if updated.Status != from {
			return core.ErrConflict
		}
		if err := updated.Apply(update, s.now()); err != nil {
			return err
		}

		data, err := json.Marshal(&updated)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return nil, fmt.Errorf("task %q %s -> %s: %w", id, from, update.Status, err)
	}

	return &updated, nil
}

// ListTasks implements core.TaskStore.
func (s *Store) ListTasks(ctx context.Context, conversationID string, statuses ...core.TaskStatus) ([]*core.Task, error) {
	ids, err := s.client.ZRange(ctx, s.convTasksKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []*core.Task
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var task core.Task
		if err := json.Unmarshal([]byte(str), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task: %w", err)
		}
		if matchStatus(task.Status, statuses) {
			out = append(out, &task)
		}
	}

	return out, nil
}

func (s *Store) watch(ctx context.Context, txf func(tx *redis.Tx) error, key string) error {
	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getJSON(ctx context.Context, c getter, key string, v any) error {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
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
