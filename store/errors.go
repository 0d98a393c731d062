package store

import "errors"

var (
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate reports an insert with an ID that already exists.
	ErrDuplicate = errors.New("store: duplicate id")

	// ErrNoIdentity reports an observer with neither device ID nor email.
	ErrNoIdentity = errors.New("store: observer has no identity")
)

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
