package chat

import "errors"

var (
	// ErrValidation marks input the service refuses before touching the store.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks operations whose target must exist and does not.
	ErrNotFound = errors.New("not found")
)
