package ledger

import "errors"

var (
	// ErrUnavailable reports that the ledger endpoint could not be
	// reached or refused the submission for transient reasons.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrTxNotFound reports an unknown transaction reference.
	ErrTxNotFound = errors.New("ledger: transaction not found")

	// ErrBadDestination reports a destination address that the ledger
	// rejects as malformed.
	ErrBadDestination = errors.New("ledger: bad destination address")

	// ErrRejected reports a submission the ledger accepted and then
	// failed, e.g. an underfunded source account. Retrying without
	// operator intervention will not help.
	ErrRejected = errors.New("ledger: transaction rejected")
)

// IsUnavailable reports whether err means the ledger leg should be skipped
// rather than treated as a processing failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
