// internal/persistence/file.go
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/user/convogate/internal/types"
)

// FileStore persists each conversation as a JSON file under
// <root>/conversations/. Writes are atomic (temp file then rename).
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) dir() string {
	return filepath.Join(f.root, "conversations")
}

// path maps a key to a filename. Keys contain prefix separators and
// arbitrary platform IDs, so the readable part is sanitized and an FNV
// suffix keeps distinct keys from colliding.
func (f *FileStore) path(key types.ConversationKey) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, string(key))
	h := fnv.New32a()
	h.Write([]byte(key))
	return filepath.Join(f.dir(), fmt.Sprintf("%s-%08x.json", sanitized, h.Sum32()))
}

// Load implements types.SessionPersistence.
func (f *FileStore) Load(_ context.Context, key types.ConversationKey) (*types.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal session file: %w", err)
	}
	return &state, nil
}

// Save implements types.SessionPersistence. The full state, history
// included, is rewritten; newEntries is redundant for this driver.
func (f *FileStore) Save(_ context.Context, key types.ConversationKey, state *types.SessionState, _ []types.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(f.dir(), 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session: %w", err)
	}
	return nil
}

// Flush implements types.SessionPersistence. Saves are write-through.
func (f *FileStore) Flush(context.Context, types.ConversationKey) error {
	return nil
}
