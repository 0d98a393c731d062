// Package ledgertest provides an in-memory ledger.Ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ubec.eco/reciprocity/ledger"
)

// FakeLedger records payments in memory.
//
// FailPays makes Pay return ledger.ErrUnavailable; MarkFailed flips a
// recorded transaction to unsuccessful to exercise verification paths.
type FakeLedger struct {
	mu       sync.Mutex
	txs      map[string]ledger.Transaction
	order    []string
	seq      int
	FailPays bool
	FailGets bool
}

var _ ledger.Ledger = (*FakeLedger)(nil)

func New() *FakeLedger {
	return &FakeLedger{txs: make(map[string]ledger.Transaction)}
}

func (f *FakeLedger) Pay(ctx context.Context, dest string, amount decimal.Decimal, memo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPays {
		return "", ledger.ErrUnavailable
	}
	if dest == "" {
		return "", ledger.ErrBadDestination
	}
	f.seq++
	ref := fmt.Sprintf("faketx-%04d", f.seq)
	f.txs[ref] = ledger.Transaction{
		Ref:        ref,
		Successful: true,
		Amount:     amount,
		Memo:       memo,
		Timestamp:  time.Now().UTC(),
	}
	f.order = append(f.order, ref)
	return ref, nil
}

func (f *FakeLedger) GetTransaction(ctx context.Context, ref string) (ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailGets {
		return ledger.Transaction{}, ledger.ErrUnavailable
	}
	tx, ok := f.txs[ref]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTxNotFound
	}
	return tx, nil
}

func (f *FakeLedger) FindByMemo(ctx context.Context, fragment string) (ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailGets {
		return ledger.Transaction{}, ledger.ErrUnavailable
	}
	for i := len(f.order) - 1; i >= 0; i-- {
		tx := f.txs[f.order[i]]
		if fragment != "" && strings.Contains(tx.Memo, fragment) {
			return tx, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrTxNotFound
}

// MarkFailed flips the recorded transaction to unsuccessful.
func (f *FakeLedger) MarkFailed(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[ref]; ok {
		tx.Successful = false
		f.txs[ref] = tx
	}
}

// SetTimestamp overrides the recorded timestamp, for drift scenarios.
func (f *FakeLedger) SetTimestamp(ref string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[ref]; ok {
		tx.Timestamp = ts
		f.txs[ref] = tx
	}
}

// SetAmount overrides the recorded amount, for mismatch scenarios.
func (f *FakeLedger) SetAmount(ref string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx, ok := f.txs[ref]; ok {
		tx.Amount = amount
		f.txs[ref] = tx
	}
}

// Len reports how many payments were recorded.
func (f *FakeLedger) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}
