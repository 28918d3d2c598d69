package persistence

import "errors"

// ErrRunNotFound indicates no run exists for the given identifier.
var ErrRunNotFound = errors.New("run not found")

// IsRunNotFound reports whether err indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
