package registry

import "errors"

// Common registry errors.
var (
	// ErrNotFound is returned when no topic or document matches a lookup.
	ErrNotFound = errors.New("topic not found")
	// ErrAlreadyExists is returned when registering a topic whose
	// normalized identifier collides with an existing one. Callers must
	// route to the update path instead of creating a second document.
	ErrAlreadyExists = errors.New("topic already exists")
)
