// internal/pending/pending.go
package pending

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/convogate/internal/types"
)

// Queue holds at most one merged envelope per conversation plus a
// cooperative cancel flag. When a message arrives while its conversation is
// busy, the admission path parks it here and signals cancel; the current
// holder observes the flag after its inference call returns and drains the
// merged envelope instead of exiting.
//
// A single envelope is retained rather than a list: a second arrival is
// concatenated onto the first and the newest message's routing metadata
// wins. This bounds memory and batches rapid-fire messages into one
// inference call.
type Queue struct {
	mu    sync.Mutex
	slots map[types.ConversationKey]*slot
}

type slot struct {
	env       *types.Envelope
	cancelled atomic.Bool
}

func New() *Queue {
	return &Queue{
		slots: make(map[types.ConversationKey]*slot),
	}
}

func (q *Queue) slotFor(key types.ConversationKey) *slot {
	s, ok := q.slots[key]
	if !ok {
		s = &slot{}
		q.slots[key] = s
	}
	return s
}

// QueueMessage parks the envelope for its conversation, merging it into any
// envelope already waiting. Merge keeps the newest metadata (target,
// attachments, should-respond, source id) and joins the texts with a
// newline, oldest first.
func (q *Queue) QueueMessage(key types.ConversationKey, env *types.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.slotFor(key)
	merged := *env
	if merged.EnqueuedAt.IsZero() {
		merged.EnqueuedAt = time.Now()
	}
	if s.env != nil {
		merged.Text = s.env.Text + "\n" + env.Text
		merged.EnqueuedAt = s.env.EnqueuedAt
	}
	s.env = &merged
}

// SignalCancel asks the current holder to reprocess the backlog once its
// in-flight call completes. This is a flag, not forced termination.
func (q *Queue) SignalCancel(key types.ConversationKey) {
	q.mu.Lock()
	s := q.slotFor(key)
	q.mu.Unlock()
	s.cancelled.Store(true)
}

// IsCancelled reports whether a cancel was signalled for the conversation.
func (q *Queue) IsCancelled(key types.ConversationKey) bool {
	q.mu.Lock()
	s, ok := q.slots[key]
	q.mu.Unlock()
	return ok && s.cancelled.Load()
}

// ResetCancel clears the cancel flag.
func (q *Queue) ResetCancel(key types.ConversationKey) {
	q.mu.Lock()
	s, ok := q.slots[key]
	q.mu.Unlock()
	if ok {
		s.cancelled.Store(false)
	}
}

// HasPending reports whether an envelope is waiting for the conversation.
func (q *Queue) HasPending(key types.ConversationKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[key]
	return ok && s.env != nil
}

// DrainAndMerge atomically takes the merged envelope, leaving the slot
// empty. Returns nil if nothing is waiting. The swap happens under the
// queue lock so an envelope appended concurrently is never lost: it either
// made it into the merge or stays for the next drain.
func (q *Queue) DrainAndMerge(key types.ConversationKey) *types.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[key]
	if !ok || s.env == nil {
		return nil
	}
	env := s.env
	s.env = nil
	return env
}

// Forget drops all state for a conversation. Used when the conversation
// itself is evicted.
func (q *Queue) Forget(key types.ConversationKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.slots, key)
}
