package store

import "errors"

// Error kinds surfaced by the aggregate store. The gateway returns them
// to the initiating client only; no event is published for a failed
// mutation, so other subscribers never observe partial side effects.
var (
	// ErrUnauthorized means the actor's role does not permit the
	// requested mutation.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrNotFound means the referenced room, post, or comment is unknown.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidState means the mutation would violate an invariant.
	ErrInvalidState = errors.New("store: invalid state")
)
