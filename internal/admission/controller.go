// internal/admission/controller.go
package admission

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/convogate/internal/types"
)

// ErrAcquireTimeout is returned when a lock could not be acquired within
// the configured bound. The caller must not assume the lock is free.
var ErrAcquireTimeout = errors.New("admission lock acquire timed out")

// Controller owns one mutual-exclusion lock per conversation key. Locks are
// created lazily on first use and survive until Forget removes them
// (typically alongside session eviction). Acquisition is timeout-bounded
// and deadlock-safe: an attempt abandoned by its caller auto-releases if it
// succeeds later.
type Controller struct {
	mu    sync.Mutex
	locks map[types.ConversationKey]*lockState
}

type lockState struct {
	mu         sync.Mutex
	held       atomic.Bool
	acquiredAt atomic.Int64 // unix nanos, 0 when free
}

func NewController() *Controller {
	return &Controller{
		locks: make(map[types.ConversationKey]*lockState),
	}
}

func (c *Controller) lockFor(key types.ConversationKey) *lockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls, ok := c.locks[key]
	if !ok {
		ls = &lockState{}
		c.locks[key] = ls
	}
	return ls
}

func (c *Controller) lookup(key types.ConversationKey) *lockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key]
}

// Acquire takes the conversation's lock, waiting at most timeout. On
// timeout it returns (false, ErrAcquireTimeout); the abandoned attempt
// releases the lock itself if it wins later, so no manual recovery is
// needed.
//
// Winning ls.mu is not enough: Forget may have removed the entry from the
// table while this caller was parked on it, in which case the win is on a
// lock nobody else can see. The table is re-checked under c.mu before the
// win counts; a removed entry is re-installed, a replaced one is handed
// back and the acquire retries against the live entry within the original
// deadline.
func (c *Controller) Acquire(key types.ConversationKey, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ls := c.lockFor(key)
		ok := AcquireTimeout(&ls.mu, time.Until(deadline), func() {
			slog.Debug("abandoned lock acquire succeeded late, auto-released", "conversation", key)
		})
		if !ok {
			return false, ErrAcquireTimeout
		}

		c.mu.Lock()
		current, present := c.locks[key]
		if !present {
			c.locks[key] = ls
			current = ls
		}
		if current == ls {
			// held is set under c.mu so Forget can never observe this
			// entry as free while we hold its mutex.
			ls.acquiredAt.Store(time.Now().UnixNano())
			ls.held.Store(true)
			c.mu.Unlock()
			return true, nil
		}
		c.mu.Unlock()
		ls.mu.Unlock()
	}
}

// Release frees the conversation's lock. Releasing a free lock is a no-op,
// tolerating double-release in cleanup paths.
func (c *Controller) Release(key types.ConversationKey) {
	ls := c.lookup(key)
	if ls == nil {
		return
	}
	if ls.held.CompareAndSwap(true, false) {
		ls.acquiredAt.Store(0)
		ls.mu.Unlock()
	}
}

// IsLocked reports whether the conversation's lock is currently held.
func (c *Controller) IsLocked(key types.ConversationKey) bool {
	ls := c.lookup(key)
	return ls != nil && ls.held.Load()
}

// LockedSince returns when the lock was acquired, if it is held.
func (c *Controller) LockedSince(key types.ConversationKey) (time.Time, bool) {
	ls := c.lookup(key)
	if ls == nil {
		return time.Time{}, false
	}
	at := ls.acquiredAt.Load()
	if at == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, at), true
}

// StaleLocks returns the keys of locks held longer than maxAge. A stale
// lock usually means the inference backend is wedged; callers log it, they
// do not break the lock.
func (c *Controller) StaleLocks(maxAge time.Duration) []types.ConversationKey {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	var stale []types.ConversationKey
	for key, ls := range c.locks {
		if at := ls.acquiredAt.Load(); at != 0 && at < cutoff {
			stale = append(stale, key)
		}
	}
	return stale
}

// Held returns every key whose lock is currently held, with acquire times.
func (c *Controller) Held() map[types.ConversationKey]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := make(map[types.ConversationKey]time.Time)
	for key, ls := range c.locks {
		if at := ls.acquiredAt.Load(); at != 0 {
			held[key] = time.Unix(0, at)
		}
	}
	return held
}

// Forget drops the lock entry for a key if it is not held. Called when the
// conversation's session is evicted. The held flag alone cannot be
// trusted: a waiter may be parked on the entry's mutex, or a winner may be
// between its Lock and setting the flag. TryLock settles it — if the mutex
// cannot be taken here, someone is using the entry and it stays.
func (c *Controller) Forget(key types.ConversationKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls, ok := c.locks[key]
	if !ok || ls.held.Load() {
		return
	}
	if !ls.mu.TryLock() {
		return
	}
	delete(c.locks, key)
	ls.mu.Unlock()
}
