package contentstore

import "errors"

var (
	ErrNotFound    = errors.New("contentstore: not found")
	ErrInvalidCID  = errors.New("contentstore: invalid cid")
	ErrCIDMismatch = errors.New("contentstore: cid mismatch")
	ErrImmutable   = errors.New("contentstore: immutable object mismatch")
	ErrUnavailable = errors.New("contentstore: backend unavailable")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
