// internal/persistence/redis.go
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/convogate/internal/types"
)

const (
	stateKeyPrefix   = "convogate:session:"
	historyKeyPrefix = "convogate:history:"
)

// RedisStore persists session state in Redis: the state snapshot under a
// string key, and individual history entries appended to a list so
// external consumers can tail the conversation. Both expire together.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. ttl <= 0 defaults to 24h.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(key types.ConversationKey) string   { return stateKeyPrefix + string(key) }
func historyKey(key types.ConversationKey) string { return historyKeyPrefix + string(key) }

// Load implements types.SessionPersistence.
func (r *RedisStore) Load(ctx context.Context, key types.ConversationKey) (*types.SessionState, error) {
	data, err := r.client.Get(ctx, stateKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &state, nil
}

// Save implements types.SessionPersistence.
func (r *RedisStore) Save(ctx context.Context, key types.ConversationKey, state *types.SessionState, newEntries []types.HistoryEntry) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(key), data, r.ttl)
		if len(newEntries) > 0 {
			values := make([]interface{}, 0, len(newEntries))
			for _, e := range newEntries {
				entry, err := json.Marshal(e)
				if err != nil {
					return fmt.Errorf("marshal history entry: %w", err)
				}
				values = append(values, entry)
			}
			pipe.RPush(ctx, historyKey(key), values...)
			pipe.Expire(ctx, historyKey(key), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Flush implements types.SessionPersistence. Saves are write-through; the
// flush just refreshes the TTL so an evicted-but-active conversation is
// not lost early.
func (r *RedisStore) Flush(ctx context.Context, key types.ConversationKey) error {
	if err := r.client.Expire(ctx, stateKey(key), r.ttl).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis flush session: %w", err)
	}
	return nil
}
