// internal/delivery/registry.go
package delivery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/user/convogate/internal/types"
)

// Registry routes outbound messages to the appropriate sender based on
// the target's prefix (e.g. "telegram:", "slack:"). It implements
// types.Sender itself, so the orchestrator delivers through it without
// knowing which transports are wired.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]types.Sender
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]types.Sender),
	}
}

// Register adds a sender for targets starting with prefix.
func (r *Registry) Register(prefix string, sender types.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[prefix] = sender
}

// Deliver finds the sender matching the target prefix and calls it.
// Returns an error if no sender is registered for the prefix.
func (r *Registry) Deliver(ctx context.Context, target, text string) (types.MessageID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for prefix, sender := range r.senders {
		if strings.HasPrefix(target, prefix) {
			return sender.Deliver(ctx, target, text)
		}
	}
	return "", fmt.Errorf("no delivery handler for target: %s", target)
}
