package cases

import "errors"

// Error taxonomy surfaced by the workflow engine. Handlers translate both
// ErrNotFound and ErrForbidden into a generic "not found" response so that
// case existence is never confirmed across hospitals.
var (
	// ErrNotFound covers a missing case, a missing target user, and a
	// hospital mismatch (deliberately indistinguishable from missing).
	ErrNotFound = errors.New("case not found")

	// ErrForbidden means the actor can see the case but the requested
	// operation violates the pipeline or terminal-status rules.
	ErrForbidden = errors.New("operation not permitted")

	// ErrValidation means the input itself is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means a concurrent modification won; the caller should
	// reload and retry.
	ErrConflict = errors.New("case was modified concurrently")
)
