// Package pinata stores observation payloads on IPFS through the Pinata
// pinning API.
//
// This is the production content-store backend. The core stays
// provider-agnostic; anything can replace it by implementing
// contentstore.CAS.
//
// Reference contract: Put returns the CID assigned by the pinning service.
// Pinata wraps pinned JSON, so that CID is not necessarily the repo's
// canonical raw+sha2-256 CID; callers must treat it as an opaque,
// content-addressed reference. Get still verifies bytes against the CID
// whenever the reference uses the canonical codec.
package pinata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
)

const (
	defaultAPIURL     = "https://api.pinata.cloud"
	defaultGatewayURL = "https://gateway.pinata.cloud"
	defaultTimeout    = 8 * time.Second
)

type Options struct {
	// JWT authenticates requests when set; otherwise APIKey+SecretKey are used.
	JWT       string
	APIKey    string
	SecretKey string

	// APIURL and GatewayURL override the Pinata endpoints (tests, mirrors).
	APIURL     string
	GatewayURL string

	// Timeout bounds each HTTP call. Defaults to 8s; remote pinning must
	// never stall the ingestion pipeline.
	Timeout time.Duration

	// HTTPClient overrides the transport when set (tests).
	HTTPClient *http.Client
}

type Client struct {
	http       *http.Client
	apiURL     string
	gatewayURL string
	jwt        string
	apiKey     string
	secretKey  string
}

var _ contentstore.CAS = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.JWT == "" && (opts.APIKey == "" || opts.SecretKey == "") {
		return nil, errors.New("pinata: JWT or APIKey+SecretKey required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	gatewayURL := strings.TrimRight(opts.GatewayURL, "/")
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}
	return &Client{
		http:       httpClient,
		apiURL:     apiURL,
		gatewayURL: gatewayURL,
		jwt:        opts.JWT,
		apiKey:     opts.APIKey,
		secretKey:  opts.SecretKey,
	}, nil
}

// GatewayURL returns the public gateway URL for a reference.
func (c *Client) GatewayURL(id cid.Cid) string {
	return fmt.Sprintf("%s/ipfs/%s", c.gatewayURL, id.String())
}

func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if !json.Valid(data) {
		return cid.Undef, fmt.Errorf("pinata: payload is not valid JSON")
	}

	body, err := json.Marshal(map[string]any{
		"pinataContent": json.RawMessage(data),
		"pinataOptions": map[string]any{"cidVersion": 1},
	})
	if err != nil {
		return cid.Undef, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return cid.Undef, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", contentstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return cid.Undef, fmt.Errorf("%w: pin status %d: %s",
			contentstore.ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return cid.Undef, fmt.Errorf("pinata: unexpected pin response: %w", err)
	}
	id, err := cidutil.Parse(out.IpfsHash)
	if err != nil {
		return cid.Undef, fmt.Errorf("pinata: invalid CID in pin response: %w", err)
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, contentstore.ErrInvalidCID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.GatewayURL(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contentstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, contentstore.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: gateway status %d", contentstore.ErrUnavailable, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contentstore.ErrUnavailable, err)
	}
	if cidutil.IsRawSHA256(id) {
		got, herr := cidutil.PayloadCID(b)
		if herr != nil {
			return nil, herr
		}
		if got != id {
			return nil, contentstore.ErrCIDMismatch
		}
	}
	return b, nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.GatewayURL(id), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Unpin removes a pin. Used by operational tooling only; the pipeline never
// deletes payloads.
func (c *Client) Unpin(ctx context.Context, id cid.Cid) error {
	if !id.Defined() {
		return contentstore.ErrInvalidCID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.apiURL+"/pinning/unpin/"+id.String(), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", contentstore.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unpin status %d", contentstore.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
		return
	}
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.secretKey)
}
