package depot

import "errors"

var (
	// ErrNotFound covers absent users, files, groups, shares, and targets.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers duplicate shares, group names, and memberships.
	ErrConflict = errors.New("already exists")

	// ErrForbidden covers denied access, non-admin group actions, and
	// last-admin removal attempts.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidToken is returned for unknown, mismatched, or expired
	// ephemeral tokens.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrRateLimited is returned when token issuance or request admission
	// exceeds its window.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidPath is returned for resource paths with fewer than two
	// segments or traversal attempts.
	ErrInvalidPath = errors.New("invalid resource path")

	// ErrInvalidArgument covers malformed requests that are not path
	// problems, such as sharing a resource with yourself.
	ErrInvalidArgument = errors.New("invalid argument")
)
