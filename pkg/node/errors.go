package node

import "errors"

// Every operation fails synchronously; nothing is retried internally.
// Callers classify failures with errors.Is.
var (
	// ErrNotFound means no instance with the node's name is in the running
	// or pending state.
	ErrNotFound = errors.New("no running or pending instance with this name")

	// ErrAmbiguousName means more than one running or pending instance
	// carries the name. Names are unique by convention only; this is an
	// external invariant violation, not a condition the node recovers from.
	ErrAmbiguousName = errors.New("multiple running or pending instances with this name")

	// ErrInvalidOperation means a mutating call requires the instance to be
	// running or pending and it is not.
	ErrInvalidOperation = errors.New("instance is not running or pending")

	// ErrAlreadyExists means a launch was attempted while an instance with
	// the same name is already running or pending.
	ErrAlreadyExists = errors.New("instance with this name already exists")

	// ErrValidation means launch parameters failed local validation. No API
	// call is made when validation fails.
	ErrValidation = errors.New("invalid launch parameters")
)
