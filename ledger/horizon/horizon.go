// Package horizon implements ledger.Ledger on top of a Stellar Horizon
// endpoint. Rewards are paid as native-asset payments from a single
// distribution account; observation identity travels in the text memo.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	protocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/txnbuild"

	"ubec.eco/reciprocity/ledger"
)

// memoScanLimit bounds how many recent account transactions FindByMemo
// inspects before giving up.
const memoScanLimit = 100

// memoTextMaxBytes is the XDR limit on text memos.
const memoTextMaxBytes = 28

// Options configure a Horizon-backed ledger.
type Options struct {
	// HorizonURL overrides the endpoint. Empty selects the public
	// testnet Horizon.
	HorizonURL string

	// NetworkPassphrase selects the network transactions are signed
	// for. Empty selects the testnet passphrase.
	NetworkPassphrase string

	// Distributor is the funded signing account rewards are paid from.
	Distributor *keypair.Full

	// TxTimeout bounds transaction validity. Zero means 5 minutes.
	TxTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to one Horizon endpoint with one distribution account.
type Client struct {
	hz         *horizonclient.Client
	kp         *keypair.Full
	passphrase string
	txTimeout  time.Duration
}

var _ ledger.Ledger = (*Client)(nil)

// New validates opts and returns a ready client.
func New(opts Options) (*Client, error) {
	if opts.Distributor == nil {
		return nil, errors.New("horizon: distributor keypair required")
	}
	url := opts.HorizonURL
	if url == "" {
		url = "https://horizon-testnet.stellar.org"
	}
	pass := opts.NetworkPassphrase
	if pass == "" {
		pass = network.TestNetworkPassphrase
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	txTimeout := opts.TxTimeout
	if txTimeout == 0 {
		txTimeout = 5 * time.Minute
	}
	return &Client{
		hz:         &horizonclient.Client{HorizonURL: strings.TrimRight(url, "/") + "/", HTTP: httpc},
		kp:         opts.Distributor,
		passphrase: pass,
		txTimeout:  txTimeout,
	}, nil
}

// Pay submits a native-asset payment and returns the transaction hash.
func (c *Client) Pay(ctx context.Context, dest string, amount decimal.Decimal, memo string) (string, error) {
	if dest == "" {
		return "", ledger.ErrBadDestination
	}
	if len(memo) > memoTextMaxBytes {
		return "", fmt.Errorf("horizon: memo %q exceeds %d bytes", memo, memoTextMaxBytes)
	}

	var resp protocol.Transaction
	err := c.do(ctx, func() error {
		source, err := c.hz.AccountDetail(horizonclient.AccountRequest{AccountID: c.kp.Address()})
		if err != nil {
			return err
		}
		tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
			SourceAccount:        &source,
			IncrementSequenceNum: true,
			BaseFee:              txnbuild.MinBaseFee,
			Preconditions: txnbuild.Preconditions{
				TimeBounds: txnbuild.NewTimeout(int64(c.txTimeout.Seconds())),
			},
			Memo: txnbuild.MemoText(memo),
			Operations: []txnbuild.Operation{
				&txnbuild.Payment{
					Destination: dest,
					Amount:      amount.StringFixed(7),
					Asset:       txnbuild.NativeAsset{},
				},
			},
		})
		if err != nil {
			return err
		}
		tx, err = tx.Sign(c.passphrase, c.kp)
		if err != nil {
			return err
		}
		resp, err = c.hz.SubmitTransaction(tx)
		return err
	})
	if err != nil {
		return "", mapHorizon(err)
	}
	return resp.Hash, nil
}

// GetTransaction fetches a transaction by hash. The payment amount is
// recovered from the transaction's first payment operation.
func (c *Client) GetTransaction(ctx context.Context, ref string) (ledger.Transaction, error) {
	var (
		tx  protocol.Transaction
		ops operations.OperationsPage
	)
	err := c.do(ctx, func() error {
		var err error
		tx, err = c.hz.TransactionDetail(ref)
		if err != nil {
			return err
		}
		ops, err = c.hz.Operations(horizonclient.OperationRequest{ForTransaction: ref})
		return err
	})
	if err != nil {
		return ledger.Transaction{}, mapHorizon(err)
	}
	return toTransaction(tx, ops), nil
}

// FindByMemo walks the distribution account's recent transactions newest
// first and returns the first whose text memo contains fragment.
func (c *Client) FindByMemo(ctx context.Context, fragment string) (ledger.Transaction, error) {
	if fragment == "" {
		return ledger.Transaction{}, ledger.ErrTxNotFound
	}
	var page protocol.TransactionsPage
	err := c.do(ctx, func() error {
		var err error
		page, err = c.hz.Transactions(horizonclient.TransactionRequest{
			ForAccount: c.kp.Address(),
			Order:      horizonclient.OrderDesc,
			Limit:      memoScanLimit,
		})
		return err
	})
	if err != nil {
		return ledger.Transaction{}, mapHorizon(err)
	}
	for _, tx := range page.Embedded.Records {
		if tx.MemoType == "text" && strings.Contains(tx.Memo, fragment) {
			return c.GetTransaction(ctx, tx.Hash)
		}
	}
	return ledger.Transaction{}, ledger.ErrTxNotFound
}

// do runs fn off the calling goroutine so a cancelled ctx returns control
// immediately. horizonclient carries no context parameter; the abandoned
// call still completes in the background bounded by the HTTP timeout.
func (c *Client) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func toTransaction(tx protocol.Transaction, ops operations.OperationsPage) ledger.Transaction {
	out := ledger.Transaction{
		Ref:        tx.Hash,
		Successful: tx.Successful,
		Memo:       tx.Memo,
		Timestamp:  tx.LedgerCloseTime,
	}
	for _, op := range ops.Embedded.Records {
		pay, ok := op.(operations.Payment)
		if !ok {
			continue
		}
		if amt, err := decimal.NewFromString(pay.Amount); err == nil {
			out.Amount = amt
		}
		break
	}
	return out
}

// mapHorizon folds horizonclient errors into the package sentinels.
func mapHorizon(err error) error {
	if err == nil {
		return nil
	}
	if hzErr := horizonclient.GetError(err); hzErr != nil {
		switch hzErr.Problem.Status {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ledger.ErrTxNotFound, hzErr.Problem.Title)
		case http.StatusBadRequest:
			if strings.Contains(hzErr.Problem.Type, "transaction_failed") {
				return fmt.Errorf("%w: %s", ledger.ErrRejected, hzErr.Problem.Title)
			}
			return fmt.Errorf("%w: %s", ledger.ErrBadDestination, hzErr.Problem.Title)
		case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ledger.ErrUnavailable, hzErr.Problem.Title)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Transport-level failures reach here as plain errors.
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
}
