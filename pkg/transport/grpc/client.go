package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/amirimatin/go-consensus/pkg/transport"
)

// Client implements transport.RPCClient over gRPC with the JSON codec.
// Connections are dialed per call; the management plane is low-traffic.
type Client struct {
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	// Use JSON codec and set content subtype accordingly.
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, err := c.dialCtx(cctx, addr)
	if err != nil {
		return nil, err
	}
	defer cc.Close()
	out := new(statusBlob)
	if err := cc.Invoke(cctx, "/consensus.v1.Management/GetStatus", &empty{}, out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetLeaderState(ctx context.Context, addr string, req transport.LeaderStateRequest) (transport.LeaderStateResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp transport.LeaderStateResponse
	cc, err := c.dialCtx(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer cc.Close()
	if err := cc.Invoke(cctx, "/consensus.v1.Management/GetLeaderState", &req, &resp); err != nil {
		return resp, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func (c *Client) GetLastOpId(ctx context.Context, addr string, req transport.OpIdRequest) (transport.OpIdResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var resp transport.OpIdResponse
	cc, err := c.dialCtx(cctx, addr)
	if err != nil {
		return resp, err
	}
	defer cc.Close()
	if err := cc.Invoke(cctx, "/consensus.v1.Management/GetLastOpId", &req, &resp); err != nil {
		return resp, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

var _ transport.RPCClient = (*Client)(nil)
