// internal/persistence/memory.go
package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/user/convogate/internal/types"
)

// MemoryStore keeps persisted sessions in process memory. It is the
// default for tests and for running without durable storage.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[types.ConversationKey][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[types.ConversationKey][]byte),
	}
}

// Load implements types.SessionPersistence.
func (m *MemoryStore) Load(_ context.Context, key types.ConversationKey) (*types.SessionState, error) {
	m.mu.RLock()
	data, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save implements types.SessionPersistence. State is snapshotted through
// JSON so later mutations by the lock holder do not leak into the store.
func (m *MemoryStore) Save(_ context.Context, key types.ConversationKey, state *types.SessionState, _ []types.HistoryEntry) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[key] = data
	m.mu.Unlock()
	return nil
}

// Flush implements types.SessionPersistence. Saves are write-through, so
// there is nothing buffered to force out.
func (m *MemoryStore) Flush(context.Context, types.ConversationKey) error {
	return nil
}
