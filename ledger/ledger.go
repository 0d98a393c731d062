// Package ledger abstracts the payment rail used to settle observation
// rewards. Implementations submit payments to a shared ledger and look
// transactions back up for verification.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the subset of a ledger transaction the rest of the system
// cares about. Amount is the payment amount of the first payment operation,
// zero when the transaction carried none.
type Transaction struct {
	Ref        string
	Successful bool
	Amount     decimal.Decimal
	Memo       string
	Timestamp  time.Time
}

// Ledger submits and retrieves payments.
//
// Contract:
//   - Pay MUST return a transaction reference usable with GetTransaction.
//   - Pay MUST return ErrUnavailable (possibly wrapped) when the ledger
//     cannot be reached, so callers can degrade rather than abort.
//   - GetTransaction MUST return ErrTxNotFound for unknown references.
//   - Implementations MUST honor ctx cancellation on every call.
type Ledger interface {
	// Pay sends amount to dest with the given memo and returns the
	// transaction reference.
	Pay(ctx context.Context, dest string, amount decimal.Decimal, memo string) (string, error)

	// GetTransaction fetches a previously submitted transaction by
	// reference.
	GetTransaction(ctx context.Context, ref string) (Transaction, error)

	// FindByMemo scans recent account transactions for one whose memo
	// contains fragment. Best effort; returns ErrTxNotFound when no
	// transaction in the scanned window matches.
	FindByMemo(ctx context.Context, fragment string) (Transaction, error)
}
