package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barekit/docinsights/pkg/llm"
	"github.com/barekit/docinsights/pkg/memory/consts"
	"github.com/redis/go-redis/v9"
)

// RedisMemory implements Memory using Redis.
type RedisMemory struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new RedisMemory. A positive ttl expires idle transcripts.
func New(client *redis.Client, ttl time.Duration) *RedisMemory {
	return &RedisMemory{client: client, ttl: ttl}
}

func key(sessionID string) string {
	return consts.KeyPrefix + sessionID
}

// Save saves a message to Redis.
// Messages are stored as a JSON list under "transcript:{sessionID}".
func (m *RedisMemory) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	k := key(sessionID)
	pipe := m.client.TxPipeline()
	pipe.RPush(ctx, k, b)
	if m.ttl > 0 {
		pipe.Expire(ctx, k, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Load loads messages from Redis.
func (m *RedisMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	result, err := m.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]llm.Message, len(result))
	for i, item := range result {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message at index %d: %w", i, err)
		}
		messages[i] = msg
	}

	return messages, nil
}

// Clear deletes the session's list.
func (m *RedisMemory) Clear(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// Close closes the client.
func (m *RedisMemory) Close() error {
	return m.client.Close()
}
