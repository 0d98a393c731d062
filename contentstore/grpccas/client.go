package grpccas

import (
	"context"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
)

// Client adapts a remote CAS service to the contentstore.CAS interface.
// Deadline defaulting lives in the stub layer; see casClient.invoke.
type Client struct {
	rpc  CASClient
	conn *grpc.ClientConn
}

var _ contentstore.CAS = (*Client)(nil)

// Dial connects to a CAS service at target. The connection is plaintext;
// deployments that need TLS should wrap their own *grpc.ClientConn and use
// NewClient.
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c := NewClient(conn)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection. The caller retains ownership of cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rpc: NewCASClient(cc)}
}

// Close releases the underlying connection when this client dialed it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	ref, err := c.rpc.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return cid.Undef, mapRPC(err)
	}
	id, err := cidutil.Parse(ref.Value)
	if err != nil {
		return cid.Undef, contentstore.ErrInvalidCID
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, contentstore.ErrInvalidCID
	}
	out, err := c.rpc.Get(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	return out.Value, nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	out, err := c.rpc.Has(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false
	}
	return out.Value
}
