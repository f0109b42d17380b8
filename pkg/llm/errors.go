package llm

import "errors"

// Typed backend failures. Providers wrap these so callers can classify
// errors with errors.Is instead of matching message text.
var (
	// ErrUnavailable indicates the backend refused or could not be reached.
	ErrUnavailable = errors.New("llm: backend unavailable")

	// ErrTimeout indicates the request exceeded its deadline.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrInvalidResponse indicates the backend answered with a body the
	// client could not interpret.
	ErrInvalidResponse = errors.New("llm: invalid response")
)
