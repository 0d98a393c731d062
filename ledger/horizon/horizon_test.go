package horizon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	protocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/render/problem"

	"ubec.eco/reciprocity/ledger"
)

func hzErr(status int, typ string) error {
	return &horizonclient.Error{Problem: problem.P{Status: status, Type: typ, Title: "test"}}
}

func TestMapHorizon(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"not found", hzErr(404, "https://stellar.org/horizon-errors/not_found"), ledger.ErrTxNotFound},
		{"tx failed", hzErr(400, "https://stellar.org/horizon-errors/transaction_failed"), ledger.ErrRejected},
		{"bad request", hzErr(400, "https://stellar.org/horizon-errors/bad_request"), ledger.ErrBadDestination},
		{"rate limited", hzErr(429, "https://stellar.org/horizon-errors/rate_limit_exceeded"), ledger.ErrUnavailable},
		{"transport", errors.New("dial tcp: connection refused"), ledger.ErrUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapHorizon(tc.err)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestToTransaction(t *testing.T) {
	closed := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	tx := protocol.Transaction{
		Hash:            "abc123",
		Successful:      true,
		Memo:            "obs:deadbeef",
		MemoType:        "text",
		LedgerCloseTime: closed,
	}
	ops := operations.OperationsPage{}
	ops.Embedded.Records = []operations.Operation{
		operations.Payment{Amount: "3.5700000"},
	}

	got := toTransaction(tx, ops)
	if got.Ref != "abc123" || !got.Successful || got.Memo != "obs:deadbeef" {
		t.Fatalf("unexpected transaction %+v", got)
	}
	if !got.Timestamp.Equal(closed) {
		t.Fatalf("timestamp %v, want %v", got.Timestamp, closed)
	}
	if got.Amount.String() != "3.57" {
		t.Fatalf("amount %s, want 3.57", got.Amount)
	}
}

func TestNewRequiresDistributor(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without a distributor keypair")
	}
}
