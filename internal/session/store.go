// internal/session/store.go
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/convogate/internal/types"
)

// Store is the bounded in-memory map from conversation key to session
// state. When the store grows past its limit, the least-recently-used
// conversations are evicted in a batch, after a best-effort flush through
// the persistence hook. A conversation whose admission lock is held is
// never evicted, even if it is the oldest.
type Store struct {
	mu       sync.RWMutex
	sessions map[types.ConversationKey]*entry

	limit     int
	marginPct int

	persist types.SessionPersistence
	locked  func(types.ConversationKey) bool
	onEvict func(types.ConversationKey)
}

// entry wraps a session with its last-access timestamp. The timestamp is
// atomic so eviction scans can read it while the lock holder updates it.
type entry struct {
	state      *types.SessionState
	lastAccess atomic.Int64 // unix nanos
}

// Option configures a Store.
type Option func(*Store)

// WithOnEvict sets a callback invoked with each evicted key, after its
// flush attempt. Used to drop the key's lock and pending-queue entries.
func WithOnEvict(fn func(types.ConversationKey)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// NewStore creates a Store holding at most limit sessions, trimming back
// below the limit plus marginPct percent when it overflows. locked reports
// whether a key's admission lock is held; locked keys are skipped by
// eviction.
func NewStore(limit, marginPct int, persist types.SessionPersistence, locked func(types.ConversationKey) bool, opts ...Option) *Store {
	s := &Store{
		sessions:  make(map[types.ConversationKey]*entry),
		limit:     limit,
		marginPct: marginPct,
		persist:   persist,
		locked:    locked,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the session for key without touching its last-access time.
func (s *Store) Get(key types.ConversationKey) (*types.SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Touch updates the key's last-access timestamp.
func (s *Store) Touch(key types.ConversationKey) {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		e.lastAccess.Store(time.Now().UnixNano())
	}
}

// Put inserts or replaces the session for key and touches it.
func (s *Store) Put(key types.ConversationKey, state *types.SessionState) {
	e := &entry{state: state}
	e.lastAccess.Store(time.Now().UnixNano())
	s.mu.Lock()
	s.sessions[key] = e
	s.mu.Unlock()
}

// GetOrCreate returns the session for key, loading it from persistence on
// a miss and creating a fresh one if nothing is persisted. The session is
// touched either way.
func (s *Store) GetOrCreate(ctx context.Context, key types.ConversationKey) *types.SessionState {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		e.lastAccess.Store(time.Now().UnixNano())
		return e.state
	}

	state, err := s.persist.Load(ctx, key)
	if err != nil {
		slog.Warn("session load failed, starting fresh", "conversation", key, "error", err)
		state = nil
	}
	if state == nil {
		state = types.NewSessionState(key)
	}

	e = &entry{state: state}
	e.lastAccess.Store(time.Now().UnixNano())

	s.mu.Lock()
	defer s.mu.Unlock()
	// Lost a race with another insert; keep the winner.
	if existing, ok := s.sessions[key]; ok {
		existing.lastAccess.Store(time.Now().UnixNano())
		return existing.state
	}
	s.sessions[key] = e
	return state
}

// Count returns the number of tracked sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// LastAccess returns when the key was last touched.
func (s *Store) LastAccess(key types.ConversationKey) (time.Time, bool) {
	s.mu.RLock()
	e, ok := s.sessions[key]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, e.lastAccess.Load()), true
}

// Snapshot returns every tracked key with its last-access time.
func (s *Store) Snapshot() map[types.ConversationKey]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.ConversationKey]time.Time, len(s.sessions))
	for key, e := range s.sessions {
		out[key] = time.Unix(0, e.lastAccess.Load())
	}
	return out
}

// EvictExcess trims the store when it holds more than limit sessions.
// Victims are the least recently used; the batch is sized
// max(1, count-limit+limit*marginPct/100) so the store does not evict on
// every insert once at capacity. Locked conversations are skipped. Each
// victim is flushed through persistence best-effort; a flush failure is
// logged and does not block the eviction. Returns the number evicted.
//
// Victim selection and removal happen under the store lock; the flushes
// and onEvict callbacks run after it is released. Flush can be a network
// call (redis driver), and holding the lock across it would stall every
// reader for the whole batch.
func (s *Store) EvictExcess(ctx context.Context, limit int) int {
	s.mu.Lock()

	count := len(s.sessions)
	if limit <= 0 || count <= limit {
		s.mu.Unlock()
		return 0
	}

	batch := count - limit + limit*s.marginPct/100
	if batch < 1 {
		batch = 1
	}

	type candidate struct {
		key    types.ConversationKey
		access int64
	}
	candidates := make([]candidate, 0, count)
	for key, e := range s.sessions {
		candidates = append(candidates, candidate{key, e.lastAccess.Load()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].access < candidates[j].access
	})

	victims := make([]types.ConversationKey, 0, batch)
	for _, c := range candidates {
		if len(victims) >= batch {
			break
		}
		if s.locked != nil && s.locked(c.key) {
			// Never evict mid-processing state; correctness beats strict
			// LRU ordering.
			continue
		}
		delete(s.sessions, c.key)
		victims = append(victims, c.key)
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	for _, key := range victims {
		if err := s.persist.Flush(ctx, key); err != nil {
			slog.Warn("flush on eviction failed", "conversation", key, "error", err)
		}
		if s.onEvict != nil {
			s.onEvict(key)
		}
	}
	if len(victims) > 0 {
		slog.Info("evicted least-recently-used sessions", "evicted", len(victims), "remaining", remaining)
	}
	return len(victims)
}
