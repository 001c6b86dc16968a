package messaging

import "errors"

var (
	// ErrUnauthenticated is returned when an operation has no acting user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidation is returned for missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced user or message does not exist.
	ErrNotFound = errors.New("not found")
)
