package model

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrObserverResolutionFailed ErrorCode = "OBSERVER_RESOLUTION_FAILED"
	ErrContentStoreUnavailable  ErrorCode = "CONTENT_STORE_UNAVAILABLE"
	ErrLedgerUnavailable        ErrorCode = "LEDGER_UNAVAILABLE"
	ErrPersistenceFailed        ErrorCode = "PERSISTENCE_FAILED"
	ErrNotFound                 ErrorCode = "NOT_FOUND"
	ErrMismatch                 ErrorCode = "MISMATCH"
	ErrUnreachable              ErrorCode = "UNREACHABLE"
	ErrInternal                 ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
//
// Callers should branch on Code via HasCode rather than matching strings;
// Message is intended for humans and may evolve.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// HasCode reports whether err is (or wraps) a *CodedError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var e *CodedError
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
