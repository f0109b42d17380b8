// internal/orchestrator/errors.go
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/user/convogate/internal/types"
)

// Failure classes surfaced by the admission protocol. A duplicate request
// is not an error: it is dropped silently before admission.
var (
	// ErrAdmissionTimeout means the conversation's lock could not be
	// acquired within the configured bound.
	ErrAdmissionTimeout = errors.New("conversation busy: admission timed out")

	// ErrBackendUnavailable means the external admission gate denied the
	// request before any lock attempt.
	ErrBackendUnavailable = errors.New("inference backend unavailable")
)

// errReprocess is the internal control-flow signal for "the in-flight pass
// was cancelled cooperatively; persist happened, drain the backlog and go
// again". It is deliberately distinct from context cancellation: a
// shutdown-driven context error must propagate out of the protocol, never
// be swallowed by the merge-retry loop.
var errReprocess = errors.New("pending backlog requires reprocessing")

// InferenceError wraps a backend failure during the processing phase. The
// user sees only a generic notice; the wrapped detail is for logs.
type InferenceError struct {
	Key types.ConversationKey
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for %s: %v", e.Key, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
